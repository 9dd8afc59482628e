// Package execctx serializes repository-scoped work.
//
// The coding agent runs with the repository root as its working
// directory, and concurrent runs against different repositories would
// interleave branch creation, commits and pushes in ways the outcome
// reporting cannot describe. One execution slot exists for the whole
// process; everything that touches a working tree acquires it.
package execctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Serializer grants exclusive access to the single execution slot.
type Serializer struct {
	slot   chan struct{}
	logger zerolog.Logger
}

// New builds a Serializer with a free slot.
func New(logger zerolog.Logger) *Serializer {
	return &Serializer{
		slot:   make(chan struct{}, 1),
		logger: logger.With().Str("component", "execctx").Logger(),
	}
}

// Do runs fn while holding the execution slot. Waiting is bounded by
// ctx; a cancelled wait returns ctx.Err() without running fn. The slot
// is released even when fn panics.
func (s *Serializer) Do(ctx context.Context, repo string, fn func(ctx context.Context) error) error {
	waitStart := time.Now()
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	if wait := time.Since(waitStart); wait > time.Second {
		s.logger.Debug().Str("repo", repo).Dur("waited", wait).Msg("execution slot contended")
	}
	return fn(ctx)
}

// TryDo runs fn only if the slot is free, reporting whether it ran.
func (s *Serializer) TryDo(repo string, fn func() error) (bool, error) {
	select {
	case s.slot <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-s.slot }()
	return true, fn()
}
