// finz-migrate rewrites legacy BASELINE# allocation items into the PROJECT#
// key space. The legacy items are left in place; set DRY_RUN=true to report
// what would be written without mutating anything.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"finz/internal/backend"
	"finz/internal/config"
	"finz/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	be, err := backend.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	if be.Cleanup != nil {
		defer be.Cleanup()
	}

	logger.Info("Starting key-space migration",
		"dry_run", cfg.DryRun,
		"page_size", cfg.MigratePageSize)

	migrator := services.NewMigrator(be.Store, services.MigratorConfig{
		DryRun:   cfg.DryRun,
		PageSize: cfg.MigratePageSize,
	})

	report, err := migrator.Run(ctx)
	if err != nil {
		logger.Error("Migration failed", "error", err, "run_id", report.RunID)
		os.Exit(1)
	}

	fmt.Printf("run_id=%s dry_run=%t migrated=%d skipped=%d failed=%d\n",
		report.RunID, report.DryRun, report.Migrated, report.Skipped, report.Failed)

	if report.Failed > 0 {
		logger.Warn("Migration completed with failures",
			"run_id", report.RunID,
			"failed", report.Failed)
		os.Exit(1)
	}

	logger.Info("Migration completed",
		"run_id", report.RunID,
		"migrated", report.Migrated,
		"skipped", report.Skipped)
}
