package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dstn-dev/autoenroll/internal/ctxlog"
	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const (
	maxAudioBytes        = 8 << 20
	defaultMinConfidence = 0.6
)

// Engine downloads a challenge audio clip, normalizes it, and tries each
// configured backend in order until one produces a confident transcript.
type Engine struct {
	Backends       []ports.TranscriptionBackend
	MinConfidence  float64
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.Transcriber = (*Engine)(nil)

func (e *Engine) Transcribe(ctx context.Context, audioURL string) (domain.TranscriptionResult, error) {
	if len(e.Backends) == 0 {
		return domain.TranscriptionResult{}, errors.New("no transcription backends configured")
	}

	audio, err := e.fetchAudio(ctx, audioURL)
	if err != nil {
		return domain.TranscriptionResult{}, err
	}
	audio = PrepareAudio(audio)

	log := ctxlog.FromContext(ctx)
	threshold := e.MinConfidence
	if threshold <= 0 {
		threshold = defaultMinConfidence
	}

	var failures []error
	for _, backend := range e.Backends {
		if err := ctx.Err(); err != nil {
			return domain.TranscriptionResult{}, err
		}

		result, err := backend.Transcribe(ctx, audio)
		if err != nil {
			log.Warn("transcription backend failed", "backend", backend.Name(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}

		result.Text = strings.TrimSpace(result.Text)
		result.Backend = backend.Name()
		if result.Text == "" {
			failures = append(failures, fmt.Errorf("%s: empty transcript", backend.Name()))
			continue
		}
		if result.Confidence < threshold {
			log.Warn("transcript below confidence threshold",
				"backend", backend.Name(),
				"confidence", result.Confidence)
			failures = append(failures, fmt.Errorf("%s: confidence %.2f below %.2f",
				backend.Name(), result.Confidence, threshold))
			continue
		}
		return result, nil
	}

	return domain.TranscriptionResult{},
		fmt.Errorf("%w: %w", domain.ErrBackendsExhausted, errors.Join(failures...))
}

func (e *Engine) fetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	parsed, err := url.Parse(audioURL)
	if err != nil {
		return nil, fmt.Errorf("parse audio url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("audio url must use http or https")
	}

	requestCtx, cancel := e.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create audio request: %w", err)
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("download challenge audio: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download challenge audio: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, domain.Transient(err)
		}
		return nil, err
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read challenge audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, errors.New("challenge audio is empty")
	}
	return audio, nil
}

func (e *Engine) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := e.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, requestTimeout)
}
