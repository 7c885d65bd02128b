package main

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds the settings of the query API.
// Every value can be changed through ENV (Docker, systemd) without a rebuild.
type Config struct {
	// HTTPPort: port of the REST API.
	HTTPPort string

	// StoreDriver / StoreDSN: the same store the data-logger writes into.
	// For sqlite the DSN is the database file shared with the data-logger.
	StoreDriver  string
	StoreDSN     string
	StoreTimeout time.Duration

	// ValkeyAddr: optional hot path for the latest measurement. Empty = off.
	ValkeyAddr string

	// PhotosDir: where the data-logger saves its captures.
	PhotosDir string

	LogLevel string
}

// LoadConfig reads the configuration. A missing variable falls back to a
// default that works for local development.
func LoadConfig() Config {
	return Config{
		HTTPPort:     getEnv("HTTP_PORT", "8000"),
		StoreDriver:  getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:     getEnv("STORE_DSN", "dashboard/surveillance.db"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		ValkeyAddr:   getEnv("VALKEY_ADDR", ""),
		PhotosDir:    getEnv("PHOTOS_DIR", "dashboard/surveillance_photos"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv returns fallback when the key is not set at all.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
