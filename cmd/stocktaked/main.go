// Command stocktaked runs the stocktake device service: the record store,
// resolution engine, and HTTP surface behind the count-screen UI.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stocktake/internal/blob"
	"stocktake/internal/config"
	"stocktake/internal/core"
	"stocktake/internal/settings"
	"stocktake/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	engine := core.DefaultRulesEngine()
	store, degraded := core.OpenPersistentStoreWithFallback(engine, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := core.NewPrometheusMetricsRecorder(registry)

	service := core.NewService(store, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive, err := blob.Open(ctx)
	if err != nil {
		logger.Warn("export archive unavailable", slog.String("error", err.Error()))
	} else {
		service.WithArchive(archive)
	}

	mirror := settings.NewFile(cfg.Settings.Path)
	seedSettings(ctx, service, mirror, logger)

	srv := web.NewServer(service, logger, web.Options{
		Mirror:         mirror,
		Registry:       registry,
		Degraded:       degraded,
		MaxUploadBytes: cfg.Import.MaxFileSize,
	})

	logger.Info("stocktaked starting",
		slog.String("driver", cfg.Storage.Driver),
		slog.Int("schema_version", service.SchemaVersion()),
		slog.Bool("degraded", degraded))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// seedSettings restores the device settings mirror into the store when the
// store has no settings yet, so a degraded or freshly migrated session keeps
// the operator's preferences.
func seedSettings(ctx context.Context, service *core.Service, mirror *settings.File, logger *slog.Logger) {
	if _, ok := service.StoredSettings(); ok {
		return
	}
	mirrored, ok, err := mirror.Load()
	if err != nil {
		logger.Warn("settings mirror unreadable", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	if _, err := service.SaveSettings(ctx, mirrored); err != nil {
		logger.Warn("settings restore failed", slog.String("error", err.Error()))
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
