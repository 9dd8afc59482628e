// Package retry provides exponential backoff retry logic for git operations.
package retry

import (
	"context"
	"time"

	rerrors "github.com/p-blackswan/repomux/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// MaxRetries=4 means up to 5 invocations total.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles each retry.
	BaseDelay time.Duration
	// Sleep is the wait function. Nil means real time; tests inject a
	// recorder instead of waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the fixed push retry schedule: 4 retries with
// delays of 2s, 4s, 8s and 16s.
func DefaultConfig() Config {
	return Config{MaxRetries: 4, BaseDelay: 2 * time.Second}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do executes fn with exponential backoff, retrying only while the error
// is classified retryable. It returns the number of invocations made and
// the final error, nil on success.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (int, error) {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := 0
	delay := cfg.BaseDelay
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !rerrors.IsRetryable(err) {
			return attempts, err
		}
		if attempts > cfg.MaxRetries {
			return attempts, err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempts, serr
		}
		delay *= 2
	}
}
