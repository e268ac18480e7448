// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables
// (and an optional .env file). Configuration loading order:
// 1. Load .env file (if present)
// 2. Read environment variables with defaults
// 3. Apply a CLI-flag override for the data directory, which takes the
//    highest priority of all three
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig holds the recognised per-provider options (spec §4.1).
type ProviderConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RateLimitCalls  int
	RateLimitWindow time.Duration
	Enabled         bool
	Priority        int
}

// ArchiveConfig configures best-effort S3/R2 archival of validation
// reports and audit records.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // non-empty selects an R2-compatible endpoint
	AccessKeyID     string
	SecretAccessKey string
}

// Config holds application configuration.
type Config struct {
	DataDir        string
	LogLevel       string
	LogPretty      bool
	Port           int
	DevMode        bool
	ScheduleTime   string // "HH:MM" daily cron time for the scheduled workflow
	WorkerPoolSize int
	AlphaVantage   ProviderConfig
	Yahoo          ProviderConfig
	LiveQuoteURL   string
	Archive        ArchiveConfig
}

// Load reads configuration from environment variables, optionally
// overriding the data directory with dataDirOverride[0] (a CLI flag).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("REFRESHENGINE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogPretty:      getEnvAsBool("LOG_PRETTY", false),
		Port:           getEnvAsInt("PORT", 8080),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		ScheduleTime:   getEnv("SCHEDULE_TIME", "06:00"),
		WorkerPoolSize: getEnvAsInt("WORKER_POOL_SIZE", 8),
		AlphaVantage: ProviderConfig{
			APIKey:          getEnv("ALPHAVANTAGE_API_KEY", ""),
			Timeout:         getEnvAsDuration("ALPHAVANTAGE_TIMEOUT", 10*time.Second),
			MaxRetries:      getEnvAsInt("ALPHAVANTAGE_MAX_RETRIES", 3),
			RetryDelay:      getEnvAsDuration("ALPHAVANTAGE_RETRY_DELAY", time.Second),
			RateLimitCalls:  getEnvAsInt("ALPHAVANTAGE_RATE_LIMIT_CALLS", 5),
			RateLimitWindow: getEnvAsDuration("ALPHAVANTAGE_RATE_LIMIT_WINDOW", time.Minute),
			Enabled:         getEnvAsBool("ALPHAVANTAGE_ENABLED", true),
			Priority:        getEnvAsInt("ALPHAVANTAGE_PRIORITY", 1),
		},
		Yahoo: ProviderConfig{
			Timeout:         getEnvAsDuration("YAHOO_TIMEOUT", 10*time.Second),
			MaxRetries:      getEnvAsInt("YAHOO_MAX_RETRIES", 3),
			RetryDelay:      getEnvAsDuration("YAHOO_RETRY_DELAY", time.Second),
			RateLimitCalls:  getEnvAsInt("YAHOO_RATE_LIMIT_CALLS", 20),
			RateLimitWindow: getEnvAsDuration("YAHOO_RATE_LIMIT_WINDOW", time.Minute),
			Enabled:         getEnvAsBool("YAHOO_ENABLED", true),
			Priority:        getEnvAsInt("YAHOO_PRIORITY", 2),
		},
		LiveQuoteURL: getEnv("LIVEQUOTE_WS_URL", ""),
		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration invariants.
func (c *Config) Validate() error {
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
