// Package main is the entry point for the autopilot engine.
// It runs what-if simulations, manages user-approved automation rules and executes
// them against incoming financial events, recording every decision in a hash-chained
// audit ledger.
//
// The application follows the same layering throughout:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FenadoAI/autopilot/internal/config"
	"github.com/FenadoAI/autopilot/internal/di"
	"github.com/FenadoAI/autopilot/internal/scheduler"
	"github.com/FenadoAI/autopilot/internal/server"
	"github.com/FenadoAI/autopilot/internal/version"
	"github.com/FenadoAI/autopilot/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from environment variables and the optional policy file
// 2. Initializes logging
// 3. Wires all dependencies (databases, repositories, services, jobs)
// 4. Verifies database integrity before accepting traffic
// 5. Starts the scheduler and the HTTP server
// 6. Waits for a shutdown signal and shuts down gracefully
//
// Two databases back the engine:
// - autopilot.db: rules, executions and per-user limits
// - ledger.db: append-only, hash-chained audit trail
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger so configuration errors are still visible
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", version.Version).Msg("Starting autopilot")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Refuse to start on a corrupted database
	sched := scheduler.New(log)
	if err := sched.RunNow(jobs.CheckDatabases); err != nil {
		log.Fatal().Err(err).Msg("Database integrity check failed")
	}

	if err := di.ScheduleJobs(sched, jobs, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Autopilot started")

	// Block until SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let running sweeps and backups finish before the databases close
	sched.Stop()

	log.Info().Msg("Server stopped")
}
