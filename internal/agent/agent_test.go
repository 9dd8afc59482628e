package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/p-blackswan/repomux/internal/errors"
)

// fakeBin writes an executable shell script standing in for the agent
// binary.
func fakeBin(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestCLIRunner_Success(t *testing.T) {
	bin := fakeBin(t, `echo "did the thing: $2"`)
	r := NewCLIRunner(bin, 5*time.Second, zerolog.Nop())

	res, err := r.Run(context.Background(), t.TempDir(), "add a healthcheck")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "did the thing: add a healthcheck")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestCLIRunner_RunsInRepoRoot(t *testing.T) {
	bin := fakeBin(t, `pwd`)
	r := NewCLIRunner(bin, 5*time.Second, zerolog.Nop())

	dir := t.TempDir()
	res, err := r.Run(context.Background(), dir, "anything")
	require.NoError(t, err)
	assert.Contains(t, res.Output, filepath.Base(dir))
}

func TestCLIRunner_Timeout(t *testing.T) {
	bin := fakeBin(t, `sleep 5`)
	r := NewCLIRunner(bin, 50*time.Millisecond, zerolog.Nop())

	_, err := r.Run(context.Background(), t.TempDir(), "slow work")
	assert.ErrorIs(t, err, rerrors.ErrAgentTimeout)
}

func TestCLIRunner_Failure(t *testing.T) {
	bin := fakeBin(t, `echo "broke" >&2; exit 1`)
	r := NewCLIRunner(bin, 5*time.Second, zerolog.Nop())

	_, err := r.Run(context.Background(), t.TempDir(), "doomed work")
	require.ErrorIs(t, err, rerrors.ErrAgentFailed)
	assert.Contains(t, err.Error(), "broke")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "0123456789...", truncate("0123456789abcdef", 10))
}
