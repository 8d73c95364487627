package domain

// CaptchaChallenge is scoped to a single solve attempt and discarded after
// consumption regardless of outcome.
type CaptchaChallenge struct {
	AudioURL string
	Attempt  int
}

// TranscriptionResult is the best-effort text for one audio resource.
type TranscriptionResult struct {
	Text       string
	Confidence float64
	Backend    string
}
