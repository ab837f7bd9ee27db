package utils

import (
	"context"
	"time"

	"ticket-redemption/internal/status"
)

// Retry runs fn up to attempts times, sleeping between attempts with
// exponential backoff starting at base and capped at maxDelay. Only
// failures classified as transient (status.TransientError) are retried;
// business errors surface immediately. The last error is returned when the
// attempt budget is exhausted.
func Retry(ctx context.Context, attempts int, base, maxDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	backOff := base
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !status.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backOff):
			backOff *= 2
			if backOff > maxDelay {
				backOff = maxDelay
			}
		}
	}

	return err
}
