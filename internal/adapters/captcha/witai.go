package captcha

import (
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

const (
	witAPIVersion = "20240601"

	// Wit does not report a transcript-level confidence; final chunks get a
	// fixed one so the engine threshold still applies.
	witConfidence = 0.85
)

// WitBackend transcribes audio through the wit.ai speech endpoint. The
// response is a stream of JSON chunks; the final chunk carries the full
// transcript.
type WitBackend struct {
	Token          string
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.TranscriptionBackend = (*WitBackend)(nil)

func (b *WitBackend) Name() string { return "wit" }

type witChunk struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func (b *WitBackend) Transcribe(ctx context.Context, audio []byte) (domain.TranscriptionResult, error) {
	if b.Token == "" {
		return domain.TranscriptionResult{}, errors.New("wit token is required")
	}

	endpoint, err := b.endpoint()
	if err != nil {
		return domain.TranscriptionResult{}, err
	}

	requestCtx, cancel := requestContext(ctx, b.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return domain.TranscriptionResult{}, fmt.Errorf("create wit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.Token)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := httpClientOrDefault(b.HTTPClient).Do(req)
	if err != nil {
		return domain.TranscriptionResult{}, domain.Transient(fmt.Errorf("wit request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("wit: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return domain.TranscriptionResult{}, domain.Transient(err)
		}
		return domain.TranscriptionResult{}, err
	}

	return parseWitStream(io.LimitReader(resp.Body, maxAudioBytes))
}

func parseWitStream(body io.Reader) (domain.TranscriptionResult, error) {
	decoder := json.NewDecoder(body)

	var last witChunk
	for {
		var chunk witChunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return domain.TranscriptionResult{}, fmt.Errorf("decode wit response: %w", err)
		}
		if chunk.Text == "" {
			continue
		}
		last = chunk
		if chunk.IsFinal {
			break
		}
	}

	if last.Text == "" {
		return domain.TranscriptionResult{}, errors.New("wit returned no transcript")
	}
	return domain.TranscriptionResult{Text: last.Text, Confidence: witConfidence}, nil
}

func (b *WitBackend) endpoint() (string, error) {
	base := b.BaseURL
	if base == "" {
		base = "https://api.wit.ai"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse wit url: %w", err)
	}

	endpoint, err := parsed.Parse("/speech")
	if err != nil {
		return "", fmt.Errorf("parse wit path: %w", err)
	}
	values := url.Values{}
	values.Set("v", witAPIVersion)
	endpoint.RawQuery = values.Encode()
	return endpoint.String(), nil
}
