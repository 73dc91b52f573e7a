// Package main implements the entry point for the engage-api server: an
// asynchronous engine that turns inbound customer events into prioritized
// AI conversation tasks and tracks each dialogue's lifecycle.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/engageai/engage-api/internal/config"
	"github.com/engageai/engage-api/internal/platform/logger"
)

func main() {
	ctx := context.Background()

	cfg, appLogger, err := initialize()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app, err := buildApplication(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	if err := app.start(); err != nil {
		app.cleanup()
		log.Fatalf("Failed to start engine: %v", err)
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// initialize loads configuration and sets up structured logging.
func initialize() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Task.WorkerCount,
		"database_configured", cfg.Database.URL != "")

	return cfg, appLogger, nil
}
