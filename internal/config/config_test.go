package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "config/repositories.json", cfg.CatalogPath)
	assert.Equal(t, 5, cfg.HistorySize)
	assert.Equal(t, 20, cfg.LogSize)
	assert.Equal(t, "sms", cfg.BranchPrefix)
	assert.Equal(t, 4, cfg.PushRetries)
	assert.Equal(t, 2*time.Second, cfg.PushBaseWait)
	assert.Equal(t, 120*time.Second, cfg.AgentTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REPOMUX_BRANCH_PREFIX", "bot")
	t.Setenv("REPOMUX_SESSION_HISTORY_SIZE", "3")
	t.Setenv("REPOMUX_PUSH_BASE_WAIT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bot", cfg.BranchPrefix)
	assert.Equal(t, 3, cfg.HistorySize)
	assert.Equal(t, 500*time.Millisecond, cfg.PushBaseWait)
}

func TestValidate_Rejections(t *testing.T) {
	cfg := &Config{HistorySize: 0, LogSize: 10}
	assert.Error(t, cfg.Validate())

	cfg = &Config{HistorySize: 5, LogSize: 0}
	assert.Error(t, cfg.Validate())

	cfg = &Config{HistorySize: 5, LogSize: 10, PushRetries: -1}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		HistorySize: 5, LogSize: 10, PushRetries: 4,
		APIAuthMode: "api-key", Environment: "production",
	}
	assert.Error(t, cfg.Validate(), "api-key mode without key must fail outside development")
}
