// Package config centralizes process configuration. Values come from
// environment variables with defaults and are validated on startup so a
// misconfigured process fails before it serves traffic.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all process configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Import   ImportConfig
	Settings SettingsConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"STOCKTAKE_SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"STOCKTAKE_SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"STOCKTAKE_SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response. Export
	// downloads can be slow on large count sets (default: 60s)
	WriteTimeout time.Duration `env:"STOCKTAKE_SERVER_WRITE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the graceful shutdown window (default: 15s)
	ShutdownTimeout time.Duration `env:"STOCKTAKE_SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// StorageConfig selects and parameterizes the record store backend. The
// driver-specific variables are read by the storage factory itself; they are
// surfaced here so validation and the startup log see one picture.
type StorageConfig struct {
	// Driver picks the persistence backend: memory, sqlite, or postgres
	// (default: sqlite)
	Driver string `env:"STOCKTAKE_STORAGE_DRIVER" default:"sqlite"`

	// SQLitePath is the database file location when driver=sqlite
	SQLitePath string `env:"STOCKTAKE_SQLITE_PATH" default:"stocktake.db"`

	// PostgresDSN is the connection string when driver=postgres
	PostgresDSN string `env:"STOCKTAKE_POSTGRES_DSN"`
}

// ImportConfig bounds bulk feed uploads.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 32MB)
	MaxFileSize int64 `env:"STOCKTAKE_IMPORT_MAX_FILE_SIZE" default:"33554432"`
}

// SettingsConfig locates the device-local settings mirror.
type SettingsConfig struct {
	// Path is the JSON mirror file location (default: settings.json)
	Path string `env:"STOCKTAKE_SETTINGS_PATH" default:"settings.json"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"STOCKTAKE_LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"STOCKTAKE_LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration and reports every failure at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("STOCKTAKE_SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "STOCKTAKE_SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("STOCKTAKE_STORAGE_DRIVER (%q) must be one of: memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, "STOCKTAKE_POSTGRES_DSN is required when driver=postgres")
	}

	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "STOCKTAKE_IMPORT_MAX_FILE_SIZE must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("STOCKTAKE_LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("STOCKTAKE_LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
