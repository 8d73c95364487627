package ports

import (
	"context"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

// Transcriber resolves an audio resource to text. Exhausting every backend
// surfaces as domain.ErrBackendsExhausted.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (domain.TranscriptionResult, error)
}

// TranscriptionBackend is one concrete speech-to-text provider. Backends
// receive preprocessed audio and never retry internally.
type TranscriptionBackend interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte) (domain.TranscriptionResult, error)
}
