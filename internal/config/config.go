// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
// Runtime-tunable values (cache TTL, rate limit delay, cache/offline
// toggles) live in the settings database, not here; these are the
// process-level knobs read once at startup.
type Config struct {
	DataDir         string // Base directory for all databases (always absolute)
	LogLevel        string
	Port            int
	DevMode         bool
	RefreshUniverse string        // Universe refreshed by the scheduled daily job ("" disables it)
	RefreshSchedule string        // Cron expression for the scheduled refresh
	RefreshRetries  int           // Retry passes for the scheduled refresh
	BackupSchedule  string        // Cron expression for the cloud backup job
	BackupRetention int           // Days to keep cloud backups (0 = keep forever)
	FetchTimeout    time.Duration // Per-request timeout for the market data provider
	Backup          BackupConfig
}

// BackupConfig holds S3-compatible backup storage configuration.
// Backups are disabled when AccessKey is empty.
type BackupConfig struct {
	Endpoint  string // S3-compatible endpoint URL (empty for AWS S3)
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether backup credentials are configured.
func (b BackupConfig) Enabled() bool {
	return b.AccessKey != "" && b.SecretKey != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SCREENER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8010),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RefreshUniverse: getEnv("REFRESH_UNIVERSE", ""),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "0 30 6 * * *"), // 06:30 daily, before market open
		RefreshRetries:  getEnvAsInt("REFRESH_RETRIES", 1),
		BackupSchedule:  getEnv("BACKUP_SCHEDULE", "0 0 4 * * *"),
		BackupRetention: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		FetchTimeout:    time.Duration(getEnvAsInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		Backup: BackupConfig{
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:    getEnv("BACKUP_S3_BUCKET", "screener-backups"),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RefreshRetries < 0 {
		return fmt.Errorf("REFRESH_RETRIES must be >= 0")
	}
	return nil
}

// Helper functions
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
