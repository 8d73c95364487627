package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

// RetryPolicy is the single retry/backoff policy applied by the orchestrator
// to transient failures. Leaf clients never retry on their own.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	return p
}

// Do runs op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Delays double from BaseDelay up to MaxDelay.
func (p RetryPolicy) Do(ctx context.Context, clock ports.Clock, op func(context.Context) error) error {
	p = p.normalized()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		if err := clock.Sleep(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}

	return lastErr
}
