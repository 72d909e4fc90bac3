package dialogue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestDecide(t *testing.T) {
	tests := []struct {
		retries, max int
		fallback     bool
		want         Decision
	}{
		{retries: 1, max: 3, want: DecisionRetry},
		{retries: 2, max: 3, fallback: true, want: DecisionRetry},
		{retries: 3, max: 3, fallback: true, want: DecisionFallback},
		{retries: 3, max: 3, want: DecisionAbort},
		{retries: 1, max: 0, want: DecisionAbort},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.retries, tt.max, tt.fallback), "Decide(%d, %d, %v)", tt.retries, tt.max, tt.fallback)
	}
}

func TestTransitionTable(t *testing.T) {
	task := &TaskInstance{Status: StatusCollecting, PendingSlot: "date"}
	assert.ErrorIs(t, task.transition(StatusCompleted, fixedNow), ErrInvalidTransition)

	assert.NoError(t, task.transition(StatusAwaitingConfirmation, fixedNow))
	assert.ErrorIs(t, task.transition(StatusExecuting, fixedNow), ErrInvalidTransition)
	assert.NoError(t, task.transition(StatusCancelled, fixedNow))
	assert.Empty(t, task.PendingSlot)
	assert.NotNil(t, task.EndedAt)

	for _, next := range []TaskStatus{StatusCollecting, StatusExecuting, StatusFailed} {
		assert.False(t, CanTransition(StatusCancelled, next), "terminal %s -> %s", StatusCancelled, next)
	}
	assert.True(t, CanTransition(StatusCollecting, StatusExecuting))
}
