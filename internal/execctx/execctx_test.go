package execctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Serializes(t *testing.T) {
	s := New(zerolog.Nop())

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), "api", func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestDo_CancelledWait(t *testing.T) {
	s := New(zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "api", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := s.Do(ctx, "web", func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	close(release)
}

func TestDo_PropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	want := errors.New("boom")
	err := s.Do(context.Background(), "api", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)

	// Slot must be free again after a failed run.
	ran, err := s.TryDo("api", func() error { return nil })
	assert.True(t, ran)
	assert.NoError(t, err)
}

func TestTryDo_BusySlot(t *testing.T) {
	s := New(zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "api", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran, err := s.TryDo("web", func() error { return nil })
	assert.False(t, ran)
	assert.NoError(t, err)

	close(release)
}
