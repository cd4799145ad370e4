package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"donat/internal/amqp"
	"donat/internal/config"
	apphttp "donat/internal/http"
	"donat/internal/ledger"
	"donat/internal/ledger/memory"
	"donat/internal/payment"
	"donat/internal/services"
	"donat/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
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

	// Ledger backend
	var store ledger.Store
	switch cfg.LedgerBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		store = repo
		logger.Info("Initialized sqlite ledger", "path", cfg.SQLiteDBPath)
	default:
		store = memory.New()
		logger.Info("Initialized memory ledger")
	}

	// Payment providers
	var providers []payment.Provider
	if cfg.WalletBaseURL != "" {
		providers = append(providers, payment.NewWalletClient(cfg.WalletBaseURL, cfg.WalletAPIKey, cfg.ReturnURL))
		logger.Info("Wallet provider enabled")
	}
	if cfg.CryptoToken != "" {
		providers = append(providers, payment.NewCryptoClient(cfg.CryptoBaseURL, cfg.CryptoToken))
		logger.Info("Crypto provider enabled")
	}
	if len(providers) == 0 {
		logger.Error("No payment providers configured")
		os.Exit(1)
	}
	gateway := payment.NewGateway(providers...)

	// AMQP archive publisher (optional)
	var archive services.ArchivePublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		archive = amqpClient
		logger.Info("AMQP archive publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	donations := services.NewDonationService(store, gateway, archive)
	defer donations.Close()

	srv := apphttp.NewServer(":"+cfg.Port, donations)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting donat server", "port", cfg.Port, "ledger", cfg.LedgerBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
