package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// Registry
	CatalogPath string `envconfig:"CATALOG_PATH" default:"config/repositories.json"`

	// Sessions
	HistorySize int `envconfig:"SESSION_HISTORY_SIZE" default:"5"`
	LogSize     int `envconfig:"SESSION_LOG_SIZE" default:"20"`

	// Git automation
	BranchPrefix string        `envconfig:"BRANCH_PREFIX" default:"sms"`
	GitTimeout   time.Duration `envconfig:"GIT_TIMEOUT" default:"30s"`
	PushRetries  int           `envconfig:"PUSH_RETRIES" default:"4"`
	PushBaseWait time.Duration `envconfig:"PUSH_BASE_WAIT" default:"2s"`

	// Coding agent
	AgentBin     string        `envconfig:"AGENT_BIN" default:"claude"`
	AgentTimeout time.Duration `envconfig:"AGENT_TIMEOUT" default:"120s"`

	// Outcome archive
	ArchivePath string `envconfig:"ARCHIVE_PATH" default:"repomux.db"`

	// API
	APIListenAddr string `envconfig:"API_LISTEN_ADDR" default:":8090"`
	APIAuthMode   string `envconfig:"API_AUTH_MODE" default:"api-key"`
	APIKey        string `envconfig:"API_KEY"`
}

// Validate checks the internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.HistorySize < 1 {
		return fmt.Errorf("SESSION_HISTORY_SIZE must be >= 1, got %d", c.HistorySize)
	}
	if c.LogSize < 1 {
		return fmt.Errorf("SESSION_LOG_SIZE must be >= 1, got %d", c.LogSize)
	}
	if c.PushRetries < 0 {
		return fmt.Errorf("PUSH_RETRIES must be >= 0, got %d", c.PushRetries)
	}
	if c.APIAuthMode == "api-key" && c.APIKey == "" && c.Environment != "development" {
		return fmt.Errorf("API_KEY is required when API_AUTH_MODE=api-key outside development")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("REPOMUX", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
