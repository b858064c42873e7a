package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finz/internal/amqp"
	"finz/internal/backend"
	"finz/internal/config"
	"finz/internal/forecast"
	applog "finz/internal/log"
	"finz/internal/services"
	"finz/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentWorker)
	applog.SetDefault(logger)

	logger.Info("Starting finz-materializer")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := backend.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	if be.Cleanup != nil {
		defer be.Cleanup()
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	assembler := forecast.NewAssembler(be.Store, forecast.AssemblerConfig{
		PageSize: cfg.SweepBatchSize,
		Fallback: services.FallbackConfig{RecurringToleranceCents: cfg.RecurringToleranceCents},
	})

	materializeWorker := worker.NewMaterializeWorker(
		be.Store,
		be.Taxonomy,
		assembler,
		services.MaterializerConfig{MaxConcurrentMonths: cfg.MaterializeConcurrency},
		cfg.SweepBatchSize,
	)

	materializeWorker.SetAuditPublisher(amqpClient)

	logger.Info("Loading taxonomy catalog...")
	if err := materializeWorker.RefreshTaxonomyIfNeeded(ctx); err != nil {
		logger.Error("Failed to load taxonomy", "error", err)
		os.Exit(1)
	}

	// Recover baselines whose signed message was lost while we were down.
	logger.Info("Performing startup sweep...")
	if err := materializeWorker.StartupSweep(ctx); err != nil {
		logger.Error("Startup sweep failed", "error", err)
		// Don't exit - continue with normal operation
	}

	go func() {
		err := amqpClient.ConsumeBaselineSigned(ctx, materializeWorker.HandleBaselineSigned)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	defer sweepTicker.Stop()

	taxonomyTicker := time.NewTicker(24 * time.Hour)
	defer taxonomyTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				if err := materializeWorker.StartupSweep(ctx); err != nil {
					logger.Error("Periodic sweep failed", "error", err)
				}
			case <-taxonomyTicker.C:
				if err := materializeWorker.RefreshTaxonomyIfNeeded(ctx); err != nil {
					logger.Error("Periodic taxonomy refresh failed", "error", err)
				}
			}
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(5 * time.Second):
		logger.Info("Worker shutdown complete")
	}
}
