package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))

	capped := Backoff{Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, capped.Delay(2))
	assert.Equal(t, 250*time.Millisecond, capped.Delay(3))
	assert.Equal(t, 250*time.Millisecond, capped.Delay(60))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), Backoff{Initial: time.Millisecond}, nil, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_MaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), Backoff{Initial: time.Millisecond, MaxAttempts: 2}, nil, "test", func(context.Context) (string, error) {
		calls++
		return "", errors.New("always")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Retry(ctx, DefaultBackoff(), nil, "test", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
