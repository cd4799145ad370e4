package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"donat/internal/amqp"
	"donat/internal/bot"
	"donat/internal/config"
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
	if cfg.TelegramToken == "" {
		logger.Error("TELEGRAM_TOKEN is required")
		os.Exit(1)
	}

	// The bot shares the ledger with the API server, so sqlite is the
	// expected backend here.
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
	default:
		logger.Warn("Memory ledger in use - donations will not be visible to the API server")
		store = memory.New()
	}

	var providers []payment.Provider
	if cfg.WalletBaseURL != "" {
		providers = append(providers, payment.NewWalletClient(cfg.WalletBaseURL, cfg.WalletAPIKey, cfg.ReturnURL))
	}
	if cfg.CryptoToken != "" {
		providers = append(providers, payment.NewCryptoClient(cfg.CryptoBaseURL, cfg.CryptoToken))
	}
	if len(providers) == 0 {
		logger.Error("No payment providers configured")
		os.Exit(1)
	}
	gateway := payment.NewGateway(providers...)

	var archive services.ArchivePublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		archive = amqpClient
	}

	donations := services.NewDonationService(store, gateway, archive)
	defer donations.Close()

	sessions := bot.NewSessionStore(cfg.SessionTTL)
	dialog := bot.NewDialog(donations, sessions)

	telegram, err := bot.NewTelegram(cfg.TelegramToken, dialog, sessions)
	if err != nil {
		logger.Error("Failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telegram.Run(ctx)
	})
	g.Go(func() error {
		return sessions.Janitor(ctx, 5*time.Minute)
	})

	logger.Info("Starting donat bot", "session_ttl", cfg.SessionTTL.String())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bot stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Bot stopped gracefully")
}
