// Package gitops drives the git CLI for registered repositories.
//
// All commands run with the repository root as the working directory of
// the child process; the engine never changes its own directory. Pushes
// go through the retry package so transient remote failures are retried
// on the fixed backoff schedule while auth failures surface immediately.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/repomux/internal/errors"
	"github.com/p-blackswan/repomux/internal/retry"
)

// Runner executes one git command in a directory. Tests substitute a
// scripted fake.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct {
	timeout time.Duration
}

func (r execRunner) Run(ctx context.Context, dir string, args ...string) (string, string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// handle serializes git commands against one repository.
type handle struct {
	name string
	mu   sync.Mutex
}

// Engine is the version-control automation engine. Handles are created
// lazily per repository name and dropped on Invalidate.
type Engine struct {
	runner Runner
	prefix string
	retry  retry.Config
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the git subprocess runner.
func WithRunner(r Runner) Option { return func(e *Engine) { e.runner = r } }

// WithRetry replaces the push retry schedule.
func WithRetry(cfg retry.Config) Option { return func(e *Engine) { e.retry = cfg } }

// WithClock replaces the branch-name clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an Engine. branchPrefix names the namespace for generated
// branches ("sms" yields sms/20250114_093045). gitTimeout bounds each
// individual git subprocess.
func New(branchPrefix string, gitTimeout time.Duration, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		runner:  execRunner{timeout: gitTimeout},
		prefix:  branchPrefix,
		retry:   retry.DefaultConfig(),
		handles: make(map[string]*handle),
		now:     time.Now,
		logger:  logger.With().Str("component", "gitops").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) handleFor(name string) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[name]
	if !ok {
		h = &handle{name: name}
		e.handles[name] = h
	}
	return h
}

// Invalidate drops the cached handle for a repository. Called when a
// repository is unregistered.
func (e *Engine) Invalidate(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, name)
}

func (e *Engine) run(ctx context.Context, op, name, dir string, args ...string) (string, error) {
	stdout, stderr, err := e.runner.Run(ctx, dir, args...)
	if err != nil {
		return stdout, rerrors.NewGitError(op, name, strings.TrimSpace(stderr), err)
	}
	return stdout, nil
}

// CurrentBranch returns the checked-out branch name.
func (e *Engine) CurrentBranch(ctx context.Context, name, dir string) (string, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	out, err := e.run(ctx, "rev-parse", name, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasChanges reports whether the working tree has uncommitted changes,
// staged or not. Untracked files count.
func (e *Engine) HasChanges(ctx context.Context, name, dir string) (bool, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	return e.hasChangesLocked(ctx, name, dir)
}

func (e *Engine) hasChangesLocked(ctx context.Context, name, dir string) (bool, error) {
	out, err := e.run(ctx, "status", name, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ChangedFiles lists paths with uncommitted changes, in porcelain order.
func (e *Engine) ChangedFiles(ctx context.Context, name, dir string) ([]string, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	out, err := e.run(ctx, "status", name, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		// Porcelain v1: two status chars, a space, then the path.
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// RemoteURL returns the origin remote URL, or "" when no origin exists.
func (e *Engine) RemoteURL(ctx context.Context, name, dir string) (string, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	out, stderr, err := e.runner.Run(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		if strings.Contains(strings.ToLower(stderr), "no such remote") {
			return "", nil
		}
		return "", rerrors.NewGitError("remote", name, strings.TrimSpace(stderr), err)
	}
	return strings.TrimSpace(out), nil
}

// branchName formats the generated branch for a given collision ordinal.
// Ordinal 1 has no suffix; later ordinals append -2, -3, ...
func (e *Engine) branchName(at time.Time, ordinal int) string {
	base := fmt.Sprintf("%s/%s", e.prefix, at.Format("20060102_150405"))
	if ordinal > 1 {
		return fmt.Sprintf("%s-%d", base, ordinal)
	}
	return base
}

// CreateBranch creates and checks out a fresh timestamped work branch.
// Same-second collisions get an ordinal suffix instead of failing.
func (e *Engine) CreateBranch(ctx context.Context, name, dir string) (string, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	at := e.now()
	const maxOrdinal = 10
	for ordinal := 1; ordinal <= maxOrdinal; ordinal++ {
		branch := e.branchName(at, ordinal)
		_, stderr, err := e.runner.Run(ctx, dir, "checkout", "-b", branch)
		if err == nil {
			e.logger.Info().Str("repo", name).Str("branch", branch).Msg("created work branch")
			return branch, nil
		}
		if strings.Contains(strings.ToLower(stderr), "already exists") {
			continue
		}
		return "", rerrors.NewGitError("branch", name, strings.TrimSpace(stderr), err)
	}
	return "", rerrors.NewGitError("branch", name,
		fmt.Sprintf("exhausted %d branch name candidates", maxOrdinal), nil)
}

// CommitAll stages everything and commits. A clean tree returns
// ErrNothingToCommit rather than a git failure.
func (e *Engine) CommitAll(ctx context.Context, name, dir, message string) error {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := e.run(ctx, "add", name, dir, "add", "-A"); err != nil {
		return err
	}

	stdout, stderr, err := e.runner.Run(ctx, dir, "commit", "-m", message)
	if err != nil {
		// git exits non-zero on an empty commit; that is not a failure
		// of the instruction, just nothing to record.
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "nothing to commit") ||
			strings.Contains(combined, "no changes added to commit") {
			return rerrors.ErrNothingToCommit
		}
		return rerrors.NewGitError("commit", name, strings.TrimSpace(stderr), err)
	}

	e.logger.Info().Str("repo", name).Str("message", message).Msg("committed changes")
	return nil
}

// Push pushes the branch to origin with upstream tracking, retrying
// transient failures on the engine's backoff schedule. The returned
// count is the number of push invocations made.
func (e *Engine) Push(ctx context.Context, name, dir, branch string) (int, error) {
	h := e.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	attempts, err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		_, stderr, runErr := e.runner.Run(ctx, dir, "push", "-u", "origin", branch)
		if runErr != nil {
			gerr := rerrors.NewGitError("push", name, strings.TrimSpace(stderr), runErr)
			e.logger.Warn().Str("repo", name).Str("branch", branch).
				Bool("transient", gerr.Transient).Str("stderr", gerr.Stderr).
				Msg("push failed")
			return gerr
		}
		return nil
	})
	if err != nil {
		var gerr *rerrors.GitError
		if errors.As(err, &gerr) {
			gerr.Attempts = attempts
		}
		return attempts, err
	}

	e.logger.Info().Str("repo", name).Str("branch", branch).Int("attempts", attempts).Msg("pushed branch")
	return attempts, nil
}

// Probe adapts the engine to the registry's git prober, which has no
// context plumbing of its own.
type Probe struct {
	Engine *Engine
}

// Remote implements registry.GitProbe.
func (p Probe) Remote(path string) (string, error) {
	return p.Engine.RemoteURL(context.Background(), path, path)
}

// Dirty implements registry.GitProbe.
func (p Probe) Dirty(path string) (bool, error) {
	return p.Engine.HasChanges(context.Background(), path, path)
}

// Branch implements registry.GitProbe.
func (p Probe) Branch(path string) (string, error) {
	return p.Engine.CurrentBranch(context.Background(), path, path)
}
