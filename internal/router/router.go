// Package router turns raw user instructions into executed work.
//
// One Handle call is the whole lifecycle: classify the instruction,
// resolve the target repository, enforce access, run the coding agent
// on a fresh branch, commit, push with retries, and report the outcome.
// Failures partway through still produce an outcome describing exactly
// how far the work got.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/repomux/internal/access"
	"github.com/p-blackswan/repomux/internal/agent"
	"github.com/p-blackswan/repomux/internal/archive"
	rerrors "github.com/p-blackswan/repomux/internal/errors"
	"github.com/p-blackswan/repomux/internal/execctx"
	"github.com/p-blackswan/repomux/internal/gitops"
	"github.com/p-blackswan/repomux/internal/intent"
	"github.com/p-blackswan/repomux/internal/metrics"
	"github.com/p-blackswan/repomux/internal/registry"
	"github.com/p-blackswan/repomux/internal/session"
)

// Outcome describes what one instruction did. ErrorCode is empty on
// success; a partial failure still carries whatever was achieved before
// the failing step (branch created, files changed, commit done).
type Outcome struct {
	ID           string   `json:"id"`
	IntentKind   string   `json:"intent"`
	Repository   string   `json:"repository,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	CommitDone   bool     `json:"commit_done"`
	Pushed       bool     `json:"pushed"`
	ErrorCode    string   `json:"error_code,omitempty"`
	AttemptCount int      `json:"attempt_count,omitempty"`
	Output       string   `json:"output,omitempty"`
	Message      string   `json:"message"`
}

// Router wires the registry, sessions, git engine and coding agent
// together.
type Router struct {
	reg      *registry.Registry
	sessions *session.Manager
	git      *gitops.Engine
	runner   agent.Runner
	exec     *execctx.Serializer
	arch     *archive.Archive
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds a Router. arch and m may be nil in tests; outcomes are
// then not persisted and not counted.
func New(
	reg *registry.Registry,
	sessions *session.Manager,
	git *gitops.Engine,
	runner agent.Runner,
	exec *execctx.Serializer,
	arch *archive.Archive,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Router {
	return &Router{
		reg:      reg,
		sessions: sessions,
		git:      git,
		runner:   runner,
		exec:     exec,
		arch:     arch,
		metrics:  m,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Handle processes one instruction for a user. Instructions from the
// same user run strictly in arrival order; the returned outcome always
// describes the final state, including partial progress on failure.
func (r *Router) Handle(ctx context.Context, userID, text string) *Outcome {
	start := time.Now()

	sess, release := r.sessions.Acquire(userID)
	defer release()

	it := intent.Parse(text)
	o := &Outcome{
		ID:         uuid.New().String(),
		IntentKind: it.Kind.String(),
	}

	switch it.Kind {
	case intent.KindSwitchRepo:
		r.handleSwitch(sess, it.Repo, o)
	case intent.KindListRepos:
		r.handleList(userID, sess, o)
	case intent.KindRepoStatus:
		r.handleStatus(ctx, userID, o)
	case intent.KindRepoInfo:
		r.handleInfo(userID, sess, it.Repo, o)
	case intent.KindInlineCommand:
		r.handleCoding(ctx, sess, it.Repo, it.Payload, o)
	case intent.KindCodingRequest:
		r.handleCoding(ctx, sess, "", it.Payload, o)
	}

	sess.Record(session.Entry{
		Repo:        o.Repository,
		Instruction: text,
		Summary:     o.Message,
	})

	elapsed := time.Since(start)
	r.finish(userID, text, o, elapsed)

	r.logger.Info().
		Str("user", userID).
		Str("intent", o.IntentKind).
		Str("repo", o.Repository).
		Str("error_code", o.ErrorCode).
		Dur("took", elapsed).
		Msg("instruction handled")
	return o
}

// Reset clears the user's routing state.
func (r *Router) Reset(userID string) {
	r.sessions.Reset(userID)
}

func (r *Router) handleSwitch(sess *session.Session, name string, o *Outcome) {
	prev, err := r.sessions.SetActive(sess, name)
	if err != nil {
		r.fail(o, err)
		return
	}
	o.Repository = name
	if prev != "" && prev != name {
		o.Message = fmt.Sprintf("Now working on %s (was %s).", name, prev)
	} else {
		o.Message = fmt.Sprintf("Now working on %s.", name)
	}
}

func (r *Router) handleList(userID string, sess *session.Session, o *Outcome) {
	repos := r.reg.List(userID)
	if len(repos) == 0 {
		o.Message = "No repositories available to you."
		return
	}

	active := sess.ActiveRepo()
	def := r.reg.DefaultName()

	var b strings.Builder
	b.WriteString("Your repositories:\n")
	for _, repo := range repos {
		marks := ""
		if repo.Name == active {
			marks += " (active)"
		}
		if repo.Name == def {
			marks += " (default)"
		}
		fmt.Fprintf(&b, "- %s%s", repo.Name, marks)
		if repo.Description != "" {
			fmt.Fprintf(&b, ": %s", repo.Description)
		}
		b.WriteString("\n")
	}
	o.Message = strings.TrimRight(b.String(), "\n")
}

func (r *Router) handleStatus(ctx context.Context, userID string, o *Outcome) {
	repos := r.reg.List(userID)
	if len(repos) == 0 {
		o.Message = "No repositories available to you."
		return
	}

	// Status reads every tree, so it takes the execution slot like any
	// other git work, but never queues behind a running coding request.
	var b strings.Builder
	ran, _ := r.exec.TryDo("status", func() error {
		b.WriteString("Repository status:\n")
		for _, repo := range repos {
			branch, err := r.git.CurrentBranch(ctx, repo.Name, repo.Path)
			if err != nil {
				fmt.Fprintf(&b, "- %s: unreadable (%s)\n", repo.Name, rerrors.Code(err))
				continue
			}
			files, err := r.git.ChangedFiles(ctx, repo.Name, repo.Path)
			if err != nil {
				fmt.Fprintf(&b, "- %s: on %s, unreadable (%s)\n", repo.Name, branch, rerrors.Code(err))
				continue
			}
			if len(files) == 0 {
				fmt.Fprintf(&b, "- %s: on %s, clean\n", repo.Name, branch)
			} else {
				fmt.Fprintf(&b, "- %s: on %s, %d uncommitted file(s)\n", repo.Name, branch, len(files))
			}
		}
		return nil
	})
	if !ran {
		o.Message = "Another repository operation is in flight; try again shortly."
		return
	}
	o.Message = strings.TrimRight(b.String(), "\n")
}

func (r *Router) handleInfo(userID string, sess *session.Session, name string, o *Outcome) {
	repo, err := r.reg.Get(name)
	if err != nil {
		r.fail(o, err)
		return
	}
	if !access.Check(repo.AccessControl, userID, access.Read) {
		r.fail(o, fmt.Errorf("info on %q: %w", name, rerrors.ErrAccessDenied))
		return
	}
	o.Repository = name

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", repo.Name)
	if repo.Description != "" {
		fmt.Fprintf(&b, "  %s\n", repo.Description)
	}
	fmt.Fprintf(&b, "  path: %s\n", repo.Path)
	if repo.RemoteURL != "" {
		fmt.Fprintf(&b, "  remote: %s\n", repo.RemoteURL)
	}
	if branch := sess.LastBranch(name); branch != "" {
		fmt.Fprintf(&b, "  your last branch: %s\n", branch)
	}
	fmt.Fprintf(&b, "  registered: %s", repo.CreatedAt.Format("2006-01-02"))
	o.Message = b.String()
}

// handleCoding runs a coding instruction. target names the repository
// for inline commands; empty means the session's active repository.
// Inline targeting never changes the active repository.
func (r *Router) handleCoding(ctx context.Context, sess *session.Session, target, instruction string, o *Outcome) {
	var repo *registry.Repository
	var err error
	if target != "" {
		repo, err = r.reg.Get(target)
	} else {
		repo, err = r.sessions.Resolve(sess)
	}
	if err != nil {
		r.fail(o, err)
		return
	}
	o.Repository = repo.Name

	decision := access.Evaluate(repo.AccessControl, sess.UserID, access.Write)
	if !decision.Allowed {
		if r.metrics != nil {
			r.metrics.RecordAccessDenied(repo.Name, string(decision.Reason))
		}
		r.fail(o, fmt.Errorf("write to %q: %w (%s)", repo.Name, rerrors.ErrAccessDenied, decision.Reason))
		return
	}

	err = r.exec.Do(ctx, repo.Name, func(ctx context.Context) error {
		return r.runCoding(ctx, sess, repo, instruction, o)
	})
	if err != nil {
		r.fail(o, err)
	}
}

// runCoding does the branch/agent/commit/push sequence while holding
// the execution slot. It mutates o as each step lands so a mid-sequence
// failure still reports the partial result, and returns the error of
// the failing step.
func (r *Router) runCoding(ctx context.Context, sess *session.Session, repo *registry.Repository, instruction string, o *Outcome) error {
	branch, err := r.git.CreateBranch(ctx, repo.Name, repo.Path)
	if err != nil {
		return err
	}
	o.Branch = branch
	sess.RecordBranch(repo.Name, branch)

	res, err := r.runner.Run(ctx, repo.Path, instruction)
	o.Output = res.Output
	if err != nil {
		return err
	}

	files, err := r.git.ChangedFiles(ctx, repo.Name, repo.Path)
	if err != nil {
		return err
	}
	o.FilesChanged = files

	err = r.git.CommitAll(ctx, repo.Name, repo.Path, commitMessage(instruction))
	if errors.Is(err, rerrors.ErrNothingToCommit) {
		o.Message = fmt.Sprintf("Agent ran on %s (branch %s) but made no changes.", repo.Name, branch)
		return nil
	}
	if err != nil {
		return err
	}
	o.CommitDone = true

	attempts, err := r.git.Push(ctx, repo.Name, repo.Path, branch)
	o.AttemptCount = attempts
	if err != nil {
		return err
	}
	o.Pushed = true

	o.Message = fmt.Sprintf("Done on %s: %d file(s) changed, pushed as %s.", repo.Name, len(files), branch)
	return nil
}

// fail records the error on the outcome and writes the human-readable
// message describing how far the work got.
func (r *Router) fail(o *Outcome, err error) {
	o.ErrorCode = rerrors.Code(err)
	if r.metrics != nil {
		r.metrics.RecordError("router", o.ErrorCode)
	}

	switch {
	case o.CommitDone:
		o.Message = fmt.Sprintf("Changes committed on %s branch %s but the push failed (%s). The branch is safe locally.", o.Repository, o.Branch, o.ErrorCode)
	case o.Branch != "" && len(o.FilesChanged) > 0:
		o.Message = fmt.Sprintf("Agent changed %d file(s) on %s branch %s but the commit failed (%s).", len(o.FilesChanged), o.Repository, o.Branch, o.ErrorCode)
	case o.Branch != "":
		o.Message = fmt.Sprintf("Branch %s was created on %s but the work failed (%s).", o.Branch, o.Repository, o.ErrorCode)
	case errors.Is(err, rerrors.ErrRepoNotFound):
		if names := r.reg.Names(); len(names) > 0 {
			o.Message = fmt.Sprintf("Could not complete the request: %v. Known repositories: %s.", err, strings.Join(names, ", "))
		} else {
			o.Message = fmt.Sprintf("Could not complete the request: %v. No repositories are registered.", err)
		}
	default:
		o.Message = fmt.Sprintf("Could not complete the request: %v", err)
	}

	r.logger.Warn().
		Str("repo", o.Repository).
		Str("branch", o.Branch).
		Str("error_code", o.ErrorCode).
		Msg("instruction failed")
}

// finish persists and counts the outcome.
func (r *Router) finish(userID, text string, o *Outcome, elapsed time.Duration) {
	status := "ok"
	if o.ErrorCode != "" {
		status = o.ErrorCode
	}
	if r.metrics != nil {
		r.metrics.RecordInstruction(o.IntentKind, status)
		r.metrics.ObserveDuration(o.IntentKind, elapsed.Seconds())
		if o.AttemptCount > 0 {
			r.metrics.ObservePushAttempts(status, o.AttemptCount)
		}
		r.metrics.SetRepositories(len(r.reg.Names()))
	}
	if r.arch != nil {
		err := r.arch.Save(&archive.Outcome{
			ID:           o.ID,
			UserID:       userID,
			IntentKind:   o.IntentKind,
			Repository:   o.Repository,
			Branch:       o.Branch,
			Instruction:  text,
			FilesChanged: o.FilesChanged,
			CommitDone:   o.CommitDone,
			Pushed:       o.Pushed,
			ErrorCode:    o.ErrorCode,
			AttemptCount: o.AttemptCount,
			Output:       o.Output,
			DurationMs:   elapsed.Milliseconds(),
		})
		if err != nil {
			r.logger.Error().Err(err).Str("outcome", o.ID).Msg("failed to archive outcome")
		}
	}
}

func commitMessage(instruction string) string {
	const limit = 72
	msg := strings.TrimSpace(instruction)
	if len(msg) > limit {
		// Cut on a rune boundary so multi-byte input is never split.
		cut := limit - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return "sms: " + msg
}
