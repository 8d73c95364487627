package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageTerminal(t *testing.T) {
	for _, stage := range []Stage{StageDone, StageFailed, StageCancelled} {
		assert.True(t, stage.Terminal(), string(stage))
	}
	for _, stage := range []Stage{StageInit, StageCaptchaPending, StageAwaitingConfirmation} {
		assert.False(t, stage.Terminal(), string(stage))
	}
}

func TestFailureCategoryRetryable(t *testing.T) {
	assert.False(t, FailureConfig.Retryable())
	assert.False(t, FailurePageStructureMismatch.Retryable())
	assert.True(t, FailureConfirmationTimeout.Retryable())
	assert.True(t, FailureMailboxProvision.Retryable())
	assert.True(t, FailureCaptchaExhausted.Retryable())
}

func TestIdentityFullName(t *testing.T) {
	assert.Equal(t, "Alice Wonderland", Identity{FirstName: "Alice", LastName: "Wonderland"}.FullName())
	assert.Equal(t, "Alice", Identity{FirstName: "Alice"}.FullName())
	assert.Equal(t, "Wonderland", Identity{LastName: "Wonderland"}.FullName())
}
