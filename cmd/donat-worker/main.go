package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"donat/internal/amqp"
	"donat/internal/config"
	gsheet "donat/internal/sheets/google"
	"donat/internal/storage"
	"donat/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting donat-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	// The worker reads completed donations straight from the ledger.
	sqliteRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer sqliteRepo.Close()

	// Google Sheets client for the archive destination (optional)
	var sheetsClient *gsheet.Client
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err = gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiveWorker *worker.ArchiveWorker
	if sheetsClient != nil {
		archiveWorker = worker.NewArchiveWorker(sqliteRepo, sheetsClient, cfg.ArchiveBatchSize)

		// On startup, archive anything that was completed while the worker
		// was down.
		logger.Info("Performing startup archive check...")
		if err := archiveWorker.StartupCheck(ctx); err != nil {
			logger.Error("Failed startup archive check", "error", err)
			// Don't exit - continue with normal operation
		}
	} else {
		logger.Info("Skipping archive operations - no Sheets client available")
	}

	if archiveWorker != nil {
		go func() {
			if err := amqpClient.ConsumeDonationArchive(ctx, archiveWorker.HandleArchiveMessage); err != nil {
				if err != context.Canceled {
					logger.Error("Message consumption failed", "error", err)
				}
				cancel()
			}
		}()

		// Periodic catch-up for donations whose archive message was lost.
		ticker := time.NewTicker(cfg.ArchiveInterval)
		defer ticker.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := archiveWorker.ProcessPendingArchive(ctx); err != nil {
						logger.Error("Periodic archive failed", "error", err)
					}
				}
			}
		}()
	} else {
		logger.Info("Skipping AMQP message consumption - no archive worker available")
	}

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
