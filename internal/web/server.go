// Package web exposes the HTTP surface consumed by the count-screen UI:
// bulk imports, identifier resolution, count CRUD, export download, and
// settings.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stocktake/internal/core"
	"stocktake/internal/scanner"
	"stocktake/internal/settings"
	"stocktake/pkg/domain"
)

// Server is the HTTP server for the stocktake device API.
type Server struct {
	service    *core.Service
	scans      *scanner.Manager
	scanLatest scanState
	mirror     *settings.File
	logger     *slog.Logger
	router     *chi.Mux
	server     *http.Server
	degraded   bool
	maxBody    int64
}

// Options configures optional server collaborators.
type Options struct {
	// Mirror, when set, receives a copy of every settings save.
	Mirror *settings.File
	// Registry, when set, exposes /metrics from this registry.
	Registry *prometheus.Registry
	// Degraded marks the store as memory-only for /healthz consumers.
	Degraded bool
	// MaxUploadBytes bounds multipart import bodies (default 32MB).
	MaxUploadBytes int64
}

// NewServer wires routes and middleware around the service.
func NewServer(service *core.Service, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxUploadBytes
	if maxBody <= 0 {
		maxBody = 32 << 20
	}
	s := &Server{
		service:  service,
		scans:    scanner.NewManager(logger),
		mirror:   opts.Mirror,
		logger:   logger,
		router:   chi.NewRouter(),
		degraded: opts.Degraded,
		maxBody:  maxBody,
	}
	s.setupMiddleware()
	s.setupRoutes(opts.Registry)
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.Get("/healthz", s.handleHealth)
	if registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/imports/catalog", s.handleImportCatalog)
		r.Post("/imports/stock", s.handleImportStock)

		r.Get("/resolve", s.handleResolve)

		r.Get("/counts", s.handleListCounts)
		r.Post("/counts", s.handleSubmitCount)
		r.Get("/counts/recent", s.handleRecentCounts)
		r.Get("/counts/{id}", s.handleGetCount)
		r.Patch("/counts/{id}", s.handleUpdateCount)
		r.Delete("/counts/{id}", s.handleDeleteCount)
		r.Post("/counts/delete", s.handleDeleteCounts)
		r.Delete("/counts", s.handleDeleteAllCounts)

		r.Get("/export", s.handleExport)
		r.Post("/export/archive", s.handleArchiveExport)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/products", s.handleProducts)
		r.Get("/stock", s.handleStock)
		r.Get("/lots", s.handleLots)
		r.Get("/locations", s.handleLocations)

		r.Post("/scan/start", s.handleScanStart)
		r.Post("/scan/stop", s.handleScanStop)
		r.Post("/scan/decode", s.handleScanDecode)
		r.Get("/scan/latest", s.handleScanLatest)

		r.Post("/admin/clear", s.handleClearAll)
	})
}

// Start begins listening on addr and blocks until the server exits.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// requestLogger logs one line per request with method, path, status, and
// duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}

// writeJSON encodes v to the response. Encoding failures are logged, not
// surfaced: headers are already gone.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// writeError maps domain errors onto HTTP statuses and emits a JSON body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var nf domain.ErrNotFound
	var rv domain.RuleViolationError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.As(err, &nf):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrImportInFlight):
		status = http.StatusConflict
	case errors.As(err, &rv):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
