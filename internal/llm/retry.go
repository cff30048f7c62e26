package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyResponse is returned when a provider answers without content.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrSchemaValidation is returned when a structured reply does not parse or
	// fails its schema's validation.
	ErrSchemaValidation = errors.New("response failed schema validation")
)

// Backoff describes a doubling retry delay.
type Backoff struct {
	// Initial is the delay after the first failure. Default: 100ms.
	Initial time.Duration

	// Max caps the delay. Zero means uncapped.
	Max time.Duration

	// MaxAttempts stops retrying after this many calls. Zero means unbounded.
	MaxAttempts int
}

// DefaultBackoff starts at 100ms and doubles without bound.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 100 * time.Millisecond}
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d <= 0 { // overflow
			if b.Max > 0 {
				return b.Max
			}
			return time.Duration(1<<63 - 1)
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Retry calls fn until it succeeds, ctx is done, or MaxAttempts is reached.
// Every error from fn is treated as transient. The wait between attempts
// follows b and is interrupted by ctx.
func Retry[T any](ctx context.Context, b Backoff, logger *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		delay := b.Delay(attempt)
		logger.Warn("retrying after error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
