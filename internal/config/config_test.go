package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "stocktake.db" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Import.MaxFileSize != 33554432 {
		t.Fatalf("max file size = %d", cfg.Import.MaxFileSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STOCKTAKE_SERVER_PORT", "9090")
	t.Setenv("STOCKTAKE_STORAGE_DRIVER", "postgres")
	t.Setenv("STOCKTAKE_POSTGRES_DSN", "postgres://localhost/stocktake?sslmode=disable")
	t.Setenv("STOCKTAKE_SERVER_READ_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("read timeout = %v", cfg.Server.ReadTimeout)
	}
}

func TestValidationCollectsAllFailures(t *testing.T) {
	t.Setenv("STOCKTAKE_SERVER_PORT", "0")
	t.Setenv("STOCKTAKE_STORAGE_DRIVER", "bolt")
	t.Setenv("STOCKTAKE_LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	msg := err.Error()
	for _, want := range []string{"STOCKTAKE_SERVER_PORT", "STOCKTAKE_STORAGE_DRIVER", "STOCKTAKE_LOG_LEVEL"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error must mention %s: %v", want, err)
		}
	}
}

func TestPostgresDriverRequiresDSN(t *testing.T) {
	t.Setenv("STOCKTAKE_STORAGE_DRIVER", "postgres")
	t.Setenv("STOCKTAKE_POSTGRES_DSN", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STOCKTAKE_POSTGRES_DSN") {
		t.Fatalf("expected DSN requirement, got %v", err)
	}
}

func TestInvalidDurationSurfacesEnvName(t *testing.T) {
	t.Setenv("STOCKTAKE_SERVER_READ_TIMEOUT", "fast")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STOCKTAKE_SERVER_READ_TIMEOUT") {
		t.Fatalf("expected duration parse failure, got %v", err)
	}
}
