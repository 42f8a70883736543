// Package retry re-runs a failing call with quadratic backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

type Config struct {
	// MaxAttempts counts the first call. Zero or less means one attempt.
	MaxAttempts int
	// BaseDelay scales the wait after attempt n to BaseDelay * n².
	BaseDelay time.Duration
	// OnRetry runs after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds or MaxAttempts is reached and returns the
// last error. A cancelled ctx stops the wait between attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		timer := time.NewTimer(cfg.BaseDelay * time.Duration(attempt*attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return err
}
