package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int, retryable func(error) bool) Policy {
	return Policy{Attempts: attempts, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Retryable: retryable}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5, nil), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	first := errors.New("first")
	last := errors.New("last")
	err := Do(context.Background(), fastPolicy(3, nil), "op", func() error {
		calls++
		if calls < 3 {
			return first
		}
		return last
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, last, err)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), fastPolicy(5, func(err error) bool {
		return !errors.Is(err, fatal)
	}), "op", func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversMidSequence(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5, nil), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5, nil), "op", func() error {
		calls++
		return errors.New("never seen")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoTreatsZeroAttemptsAsOne(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(0, nil), "op", func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
