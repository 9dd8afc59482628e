// Package errors provides structured error types for the routing engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for registry and routing failure modes.
var (
	ErrDuplicateName    = errors.New("repository name already registered")
	ErrInvalidPath      = errors.New("path is not a git working tree")
	ErrRepoNotFound     = errors.New("repository not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrUnsafeUnregister = errors.New("repository has uncommitted changes")
	ErrNoActiveRepo     = errors.New("no active repository")
	ErrNothingToCommit  = errors.New("nothing to commit")
	ErrAgentTimeout     = errors.New("coding agent timed out")
	ErrAgentFailed      = errors.New("coding agent failed")
)

// GitError represents a failed git subprocess invocation.
type GitError struct {
	Op        string // "branch", "commit", "push", ...
	Repo      string
	Stderr    string
	Transient bool
	Attempts  int // populated after retry exhaustion
	Err       error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed in %s", e.Op, e.Repo)
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// NewGitError builds a GitError, classifying the stderr output as
// transient or fatal. Authentication and permission failures are fatal;
// everything else (network resets, remote hangups, timeouts) is assumed
// transient and eligible for retry.
func NewGitError(op, repo, stderr string, err error) *GitError {
	return &GitError{
		Op:        op,
		Repo:      repo,
		Stderr:    stderr,
		Transient: !isFatalGitStderr(stderr),
		Err:       err,
	}
}

// isFatalGitStderr reports whether the stderr of a git command indicates
// an auth/permission failure that retrying cannot fix.
func isFatalGitStderr(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"403",
		"401",
		"authentication failed",
		"permission denied",
		"access denied",
		"could not read username",
		"invalid credentials",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the error is transient and worth retrying.
func IsRetryable(err error) bool {
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return gitErr.Transient
	}
	return false
}

// Code maps an error to the stable string code reported in outcomes.
// Unknown errors map to "internal".
func Code(err error) string {
	var gitErr *GitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrRepoNotFound):
		return "repo_not_found"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrUnsafeUnregister):
		return "unsafe_unregister"
	case errors.Is(err, ErrNoActiveRepo):
		return "no_active_repo"
	case errors.Is(err, ErrNothingToCommit):
		return "nothing_to_commit"
	case errors.Is(err, ErrAgentTimeout):
		return "agent_timeout"
	case errors.Is(err, ErrAgentFailed):
		return "agent_failed"
	case errors.As(err, &gitErr):
		if gitErr.Transient {
			return "git_exhausted"
		}
		return "git_fatal"
	default:
		return "internal"
	}
}
