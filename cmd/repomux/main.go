package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/repomux/internal/agent"
	"github.com/p-blackswan/repomux/internal/api"
	"github.com/p-blackswan/repomux/internal/archive"
	"github.com/p-blackswan/repomux/internal/config"
	"github.com/p-blackswan/repomux/internal/execctx"
	"github.com/p-blackswan/repomux/internal/gitops"
	"github.com/p-blackswan/repomux/internal/health"
	"github.com/p-blackswan/repomux/internal/metrics"
	"github.com/p-blackswan/repomux/internal/registry"
	"github.com/p-blackswan/repomux/internal/retry"
	"github.com/p-blackswan/repomux/internal/router"
	"github.com/p-blackswan/repomux/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("REPOMUX_ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("api_addr", cfg.APIListenAddr).
		Str("catalog", cfg.CatalogPath).
		Msg("starting repomux")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Git engine first so the registry can probe remotes and dirty
	// state with it.
	engine := gitops.New(cfg.BranchPrefix, cfg.GitTimeout, logger,
		gitops.WithRetry(retry.Config{
			MaxRetries: cfg.PushRetries,
			BaseDelay:  cfg.PushBaseWait,
		}))

	reg, err := registry.New(cfg.CatalogPath, logger,
		registry.WithGitProbe(gitops.Probe{Engine: engine}),
		registry.WithHandleInvalidator(engine.Invalidate))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load repository catalog")
	}

	arch, err := archive.New(cfg.ArchivePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open outcome archive")
	}
	defer arch.Close()

	m := metrics.New()
	m.SetRepositories(len(reg.Names()))

	checker := health.NewChecker(logger)
	checker.Register("registry", health.RegistryCheck(reg))
	checker.Register("archive", health.ArchiveCheck(arch))

	sessions := session.NewManager(reg, cfg.HistorySize, cfg.LogSize, logger)
	runner := agent.NewCLIRunner(cfg.AgentBin, cfg.AgentTimeout, logger)
	exec := execctx.New(logger)

	rt := router.New(reg, sessions, engine, runner, exec, arch, m, logger)

	// Plain HTTP server for probes and Prometheus scraping.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	handlers := api.NewHandlers(rt, reg, sessions, arch, checker, logger)
	apiServer := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.APIListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:   cfg.APIAuthMode,
			APIKey: cfg.APIKey,
		},
	}, handlers, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Nightly outcome pruning keeps the archive bounded.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := arch.Prune(90 * 24 * time.Hour); err != nil {
					logger.Error().Err(err).Msg("outcome pruning failed")
				}
			}
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("repomux stopped")
}
