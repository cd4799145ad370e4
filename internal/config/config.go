package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Ledger backend selection: memory or sqlite
	LedgerBackend string
	SQLiteDBPath  string

	// Payment providers
	WalletBaseURL string
	WalletAPIKey  string
	CryptoBaseURL string
	CryptoToken   string
	ReturnURL     string

	// Telegram bot
	TelegramToken string
	SessionTTL    time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets archive
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Archive worker
	ArchiveBatchSize int
	ArchiveInterval  time.Duration
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		LedgerBackend: getEnv("LEDGER_BACKEND", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/donat.db"),

		WalletBaseURL: getEnv("WALLET_BASE_URL", ""),
		WalletAPIKey:  getEnv("WALLET_API_KEY", ""),
		CryptoBaseURL: getEnv("CRYPTO_BASE_URL", "https://pay.crypt.bot"),
		CryptoToken:   getEnv("CRYPTO_TOKEN", ""),
		ReturnURL:     getEnv("RETURN_URL", ""),

		TelegramToken: getEnv("TELEGRAM_TOKEN", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 30*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "donat"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "archive_donations"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Donations"),

		ArchiveBatchSize: getEnvInt("ARCHIVE_BATCH_SIZE", 10),
		ArchiveInterval:  getEnvDuration("ARCHIVE_INTERVAL", 30*time.Second),
	}
}

// Validate checks the configuration and returns a combined error when any
// value is unusable.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.LedgerBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid ledger backend '%s': must be one of [memory sqlite]", c.LedgerBackend))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.WalletBaseURL != "" {
		if _, err := url.Parse(c.WalletBaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid wallet base URL '%s': %v", c.WalletBaseURL, err))
		}
		if c.WalletAPIKey == "" {
			errs = append(errs, "wallet API key cannot be empty when wallet base URL is provided")
		}
	}

	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.ArchiveBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid archive batch size %d: must be at least 1", c.ArchiveBatchSize))
	} else if c.ArchiveBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid archive batch size %d: must be at most 1000", c.ArchiveBatchSize))
	}

	if c.ArchiveInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid archive interval %v: must be at least 1 second", c.ArchiveInterval))
	} else if c.ArchiveInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid archive interval %v: must be at most 24 hours", c.ArchiveInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
