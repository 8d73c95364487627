package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

const googleSpeechResponse = `{"result":[]}
{"result":[{"alternative":[{"transcript":"seven four two","confidence":0.92}],"final":true}],"result_index":0}
`

func TestGoogleSpeechParsesLineDelimitedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech-api/v2/recognize", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "en-US", r.URL.Query().Get("lang"))
		_, _ = w.Write([]byte(googleSpeechResponse))
	}))
	defer server.Close()

	backend := &GoogleSpeechBackend{APIKey: "test-key", BaseURL: server.URL}
	result, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "seven four two", result.Text)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
}

func TestGoogleSpeechFallsBackToDefaultConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[{"alternative":[{"transcript":"one two"}],"final":true}]}`))
	}))
	defer server.Close()

	backend := &GoogleSpeechBackend{APIKey: "test-key", BaseURL: server.URL}
	result, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.InDelta(t, googleSpeechConfidenceFallback, result.Confidence, 0.001)
}

func TestGoogleSpeechEmptyResponseIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	backend := &GoogleSpeechBackend{APIKey: "test-key", BaseURL: server.URL}
	_, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcript")
}

func TestGoogleSpeechRequiresAPIKey(t *testing.T) {
	backend := &GoogleSpeechBackend{}
	_, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
}

func TestWitParsesChunkedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech", r.URL.Path)
		assert.Equal(t, "Bearer wit-token", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"text": "seven"}
{"text": "seven four"}
{"text": "seven four two", "is_final": true}`))
	}))
	defer server.Close()

	backend := &WitBackend{Token: "wit-token", BaseURL: server.URL}
	result, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "seven four two", result.Text)
	assert.InDelta(t, witConfidence, result.Confidence, 0.001)
}

func TestWitClassifiesServerErrorsAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := &WitBackend{Token: "wit-token", BaseURL: server.URL}
	_, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}

func TestWitEmptyStreamIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text": ""}`))
	}))
	defer server.Close()

	backend := &WitBackend{Token: "wit-token", BaseURL: server.URL}
	_, err := backend.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
}
