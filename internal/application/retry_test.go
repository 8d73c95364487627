package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

func TestRetryStopsAfterConfiguredAttempts(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	calls := 0
	injected := domain.Transient(errors.New("connection reset"))
	err := policy.Do(context.Background(), clock, func(context.Context) error {
		calls++
		return injected
	})

	require.ErrorIs(t, err, injected)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, clock.sleepCount())
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	_ = policy.Do(context.Background(), clock, func(context.Context) error {
		return domain.Transient(errors.New("still down"))
	})

	require.Equal(t, 4, clock.sleepCount())
	assert.Equal(t, time.Second, clock.sleeps[0])
	assert.Equal(t, 2*time.Second, clock.sleeps[1])
	assert.Equal(t, 3*time.Second, clock.sleeps[2])
	assert.Equal(t, 3*time.Second, clock.sleeps[3])
}

func TestRetrySucceedsOnceInjectedFailureStops(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), clock, func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.Transient(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryDoesNotRetryNonRetryableErrors(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	fatal := errors.New("page changed")
	err := policy.Do(context.Background(), clock, func(context.Context) error {
		calls++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Zero(t, clock.sleepCount())
}

func TestRetryTimeoutClassIsRetried(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), clock, func(context.Context) error {
		calls++
		return domain.ErrNavigationTimeout
	})

	require.ErrorIs(t, err, domain.ErrNavigationTimeout)
	assert.Equal(t, 2, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	clock := newFakeClock()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Do(ctx, clock, func(context.Context) error {
		calls++
		cancel()
		return domain.Transient(errors.New("flaky"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
