// Package agent invokes the coding agent CLI against a working tree.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/repomux/internal/errors"
)

// Result is what one agent invocation produced.
type Result struct {
	Output   string
	Duration time.Duration
}

// Runner executes one coding instruction in a repository root. The
// router depends on this interface; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, repoRoot, instruction string) (Result, error)
}

// CLIRunner shells out to the agent binary with the repository root as
// the working directory of the child process.
type CLIRunner struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCLIRunner builds a CLIRunner. timeout bounds each invocation; a
// run that exceeds it is reported as an agent timeout, not a generic
// failure.
func NewCLIRunner(bin string, timeout time.Duration, logger zerolog.Logger) *CLIRunner {
	return &CLIRunner{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With().Str("component", "agent").Logger(),
	}
}

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, repoRoot, instruction string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin, "-p", instruction)
	cmd.Dir = repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("bin", r.bin).
		Str("dir", repoRoot).
		Str("instruction", truncate(instruction, 80)).
		Msg("invoking coding agent")

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: stdout.String(), Duration: time.Since(start)}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s", rerrors.ErrAgentTimeout, r.timeout)
		}
		return res, fmt.Errorf("%w: %v (stderr: %s)", rerrors.ErrAgentFailed, err, truncate(stderr.String(), 500))
	}

	r.logger.Info().
		Str("dir", repoRoot).
		Dur("took", res.Duration).
		Int("outputBytes", len(res.Output)).
		Msg("coding agent finished")
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
