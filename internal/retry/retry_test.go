package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	rerrors "github.com/p-blackswan/repomux/internal/errors"
)

// fakeSleep records requested delays without waiting.
func fakeSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func transientErr() error {
	return rerrors.NewGitError("push", "api", "remote hung up", nil)
}

func fatalErr() error {
	return rerrors.NewGitError("push", "api", "403 forbidden", nil)
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 4, BaseDelay: 2 * time.Second, Sleep: fakeSleep(&delays)}

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestDo_TransientFailuresThenSuccess(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 4, BaseDelay: 2 * time.Second, Sleep: fakeSleep(&delays)}

	calls := 0
	attempts, err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls <= 4 {
			return transientErr()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays, "backoff schedule must be order-exact")
}

func TestDo_FatalNotRetried(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 4, BaseDelay: 2 * time.Second, Sleep: fakeSleep(&delays)}

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return fatalErr()
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays, "auth failures must not retry")
}

func TestDo_Exhaustion(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 4, BaseDelay: 2 * time.Second, Sleep: fakeSleep(&delays)}

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return transientErr()
	})
	assert.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Len(t, delays, 4)
}

func TestDo_GenericErrorNotRetried(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries: 4,
		BaseDelay:  2 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	_, err := Do(ctx, cfg, func(ctx context.Context) error { return transientErr() })
	assert.ErrorIs(t, err, context.Canceled)
}
