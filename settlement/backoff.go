package settlement

import (
	"context"
	"errors"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff is the schedule purchase settlement uses unless configured
// otherwise: 250ms, 500ms, 1s, 2s, capped at 5 attempts.
var DefaultBackoff = Backoff{
	Initial:     250 * time.Millisecond,
	Max:         4 * time.Second,
	Factor:      2,
	MaxAttempts: 5,
}

// Delay returns the wait before the given zero-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := time.Duration(float64(b.Initial) * pow(b.Factor, attempt))
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Retry runs fn up to MaxAttempts times, sleeping per the schedule between
// attempts. Only ErrUnavailable failures are retried; any other error, or
// context cancellation, stops the loop immediately.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrUnavailable) {
			return lastErr
		}
	}
	return lastErr
}
