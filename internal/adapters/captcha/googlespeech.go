package captcha

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const googleSpeechConfidenceFallback = 0.7

// GoogleSpeechBackend transcribes audio through the unofficial Google speech
// endpoint used by Chromium. Responses arrive as one JSON object per line;
// the first non-empty result wins.
type GoogleSpeechBackend struct {
	APIKey         string
	Language       string
	BaseURL        string
	ContentType    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.TranscriptionBackend = (*GoogleSpeechBackend)(nil)

func (b *GoogleSpeechBackend) Name() string { return "google-speech" }

type googleSpeechLine struct {
	Result []struct {
		Alternative []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternative"`
		Final bool `json:"final"`
	} `json:"result"`
}

func (b *GoogleSpeechBackend) Transcribe(ctx context.Context, audio []byte) (domain.TranscriptionResult, error) {
	if b.APIKey == "" {
		return domain.TranscriptionResult{}, errors.New("google speech api key is required")
	}

	endpoint, err := b.endpoint()
	if err != nil {
		return domain.TranscriptionResult{}, err
	}

	requestCtx, cancel := requestContext(ctx, b.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return domain.TranscriptionResult{}, fmt.Errorf("create speech request: %w", err)
	}
	contentType := b.ContentType
	if contentType == "" {
		contentType = fmt.Sprintf("audio/x-flac; rate=%d", targetSampleRate)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClientOrDefault(b.HTTPClient).Do(req)
	if err != nil {
		return domain.TranscriptionResult{}, domain.Transient(fmt.Errorf("google speech request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("google speech: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return domain.TranscriptionResult{}, domain.Transient(err)
		}
		return domain.TranscriptionResult{}, err
	}

	return parseGoogleSpeech(io.LimitReader(resp.Body, maxAudioBytes))
}

func parseGoogleSpeech(body io.Reader) (domain.TranscriptionResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var payload googleSpeechLine
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		for _, result := range payload.Result {
			for _, alt := range result.Alternative {
				if alt.Transcript == "" {
					continue
				}
				confidence := alt.Confidence
				if confidence == 0 {
					confidence = googleSpeechConfidenceFallback
				}
				return domain.TranscriptionResult{Text: alt.Transcript, Confidence: confidence}, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.TranscriptionResult{}, fmt.Errorf("read speech response: %w", err)
	}
	return domain.TranscriptionResult{}, errors.New("google speech returned no transcript")
}

func (b *GoogleSpeechBackend) endpoint() (string, error) {
	base := b.BaseURL
	if base == "" {
		base = "https://www.google.com"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse speech url: %w", err)
	}

	endpoint, err := parsed.Parse("/speech-api/v2/recognize")
	if err != nil {
		return "", fmt.Errorf("parse speech path: %w", err)
	}

	lang := b.Language
	if lang == "" {
		lang = "en-US"
	}
	values := url.Values{}
	values.Set("client", "chromium")
	values.Set("lang", lang)
	values.Set("key", b.APIKey)
	endpoint.RawQuery = values.Encode()
	return endpoint.String(), nil
}

func httpClientOrDefault(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func requestContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
