// Package retry provides bounded retry with a fixed delay between attempts.
//
// Every wrapped operation is treated as uniformly retryable: transient and
// permanent failures are not distinguished, the attempt budget alone decides
// when to give up.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config controls how often and how quickly an operation is retried.
type Config struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
}

// Do invokes fn up to cfg.MaxAttempts times, sleeping cfg.Delay between
// attempts. onAttempt, when non-nil, is called once for each failed attempt
// that will be retried; the final failure is not reported through it because
// the wrapped error carries it. Cancellation of ctx during the delay aborts
// early with ctx.Err().
func Do[T any](ctx context.Context, cfg Config, name string, fn func() (T, error), onAttempt func(attempt int, err error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		clog.FromContext(ctx).With("operation", name).
			With("attempt", attempt).
			With("max_attempts", cfg.MaxAttempts).
			With("error", err.Error()).
			Warn("attempt failed, retrying")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}
