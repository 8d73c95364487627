package domain

import "time"

// Stage is one named step of the registration state machine. Stages are
// linear; Failed and Cancelled are terminal and reachable out of order.
type Stage string

const (
	StageInit                 Stage = "init"
	StageIdentityReady        Stage = "identity_ready"
	StageMailboxProvisioned   Stage = "mailbox_provisioned"
	StageFormFilled           Stage = "form_filled"
	StageCaptchaPending       Stage = "captcha_pending"
	StageCaptchaSolved        Stage = "captcha_solved"
	StageSubmitted            Stage = "submitted"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageConfirmationFollowed Stage = "confirmation_followed"
	StageLabStarted           Stage = "lab_started"
	StageArtifactExtracted    Stage = "artifact_extracted"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
	StageCancelled            Stage = "cancelled"
)

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// Outcome is the terminal disposition of a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// FailureCategory distinguishes "try again later" from "this run can never
// succeed as configured".
type FailureCategory string

const (
	FailureNone                  FailureCategory = ""
	FailureConfig                FailureCategory = "invalid_config"
	FailureBrowserLaunch         FailureCategory = "browser_launch"
	FailureIdentityProvision     FailureCategory = "identity_provision"
	FailureMailboxProvision      FailureCategory = "mailbox_provision"
	FailureIdentityExhausted     FailureCategory = "identity_attempts_exhausted"
	FailureCaptchaExhausted      FailureCategory = "captcha_exhausted"
	FailureSubmissionRejected    FailureCategory = "submission_rejected"
	FailureConfirmationTimeout   FailureCategory = "confirmation_timeout"
	FailurePageStructureMismatch FailureCategory = "page_structure_mismatch"
	FailureResourceTimeout       FailureCategory = "resource_timeout"
)

// Retryable reports whether a later run with the same configuration could
// plausibly succeed.
func (c FailureCategory) Retryable() bool {
	switch c {
	case FailureConfig, FailurePageStructureMismatch:
		return false
	default:
		return true
	}
}

// AttemptCounters tracks bounded-retry progress per stage. Counters are
// monotonically non-decreasing within a run.
type AttemptCounters struct {
	Identity     int
	Mailbox      int
	Navigation   int
	Captcha      int
	Submission   int
	Confirmation int
}

// RunState is the orchestrator's private record of one run. It is mutated at
// every stage transition and never shared between runs.
type RunState struct {
	RunID     string
	Stage     Stage
	Identity  Identity
	Mailbox   MailboxHandle
	Attempts  AttemptCounters
	StartedAt time.Time
	LastError string
}

// RunStatus is the externally visible view of a run in flight.
type RunStatus struct {
	RunID    string
	Stage    Stage
	Attempts AttemptCounters
}

// Trace carries enough diagnostics to explain a terminal result: the stage
// the run ended in, attempt counters, and the last raw error seen.
type Trace struct {
	Stage     Stage
	Attempts  AttemptCounters
	LastError string
	StartedAt time.Time
	EndedAt   time.Time
}

// RunResult is produced once per run and immutable after creation.
type RunResult struct {
	Outcome  Outcome
	Artifact string
	Category FailureCategory
	Trace    Trace
}
