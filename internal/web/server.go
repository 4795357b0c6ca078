// Package web provides the HTTP API for the resource import flow.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/web/middleware"
)

// DefaultMaxUploadSize is used when Options.MaxUploadSize is zero (100MB).
const DefaultMaxUploadSize = 100 << 20

// DefaultRequestTimeout bounds every route except the progress stream.
const DefaultRequestTimeout = 60 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	MaxUploadSize     int64
	RateLimitEnabled  bool
	RequestsPerMinute int      // Per client IP, all routes
	UploadsPerMinute  int      // Per client IP, uploads and import starts
	TrustedProxies    []string // CIDRs allowed to set X-Real-IP / X-Forwarded-For
	Database          Pinger   // Optional, reported by /api/status
	TargetKind        string

	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // Keep at 0 so progress streams are not cut off
	IdleTimeout    time.Duration
}

// Server is the HTTP server for the import API.
type Server struct {
	service  *core.Service
	opts     Options
	router   *chi.Mux
	server   *http.Server
	validate *validator.Validate
	started  time.Time
}

// NewServer creates a Server with all routes registered.
func NewServer(service *core.Service, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		service:  service,
		opts:     opts,
		router:   chi.NewRouter(),
		validate: newValidator(),
		started:  time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.opts.RateLimitEnabled && s.opts.RequestsPerMinute > 0 {
		s.router.Use(newRateLimiter(s.opts.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	uploads := func(next http.Handler) http.Handler { return next }
	if s.opts.RateLimitEnabled && s.opts.UploadsPerMinute > 0 {
		uploads = newRateLimiter(s.opts.UploadsPerMinute, time.Minute).middleware
	}

	s.router.Route("/api", func(r chi.Router) {
		// The progress stream stays open for the whole import.
		r.Get("/sessions/{id}/progress", s.handleProgress)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.opts.RequestTimeout))

			r.Get("/status", s.handleStatus)
			r.Get("/runs", s.handleListRuns)

			// Catalog and template download
			r.Get("/resource-types", s.handleListResourceTypes)
			r.Get("/resource-types/{type}", s.handleGetResourceType)
			r.Get("/template/{type}", s.handleDownloadTemplate)

			// Sessions
			r.With(uploads).Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleCancelSession)
			r.With(uploads).Put("/sessions/{id}/file", s.handleReplaceFile)
			r.Put("/sessions/{id}/resource-type", s.handleSetResourceType)
			r.Put("/sessions/{id}/mapping", s.handleUpdateMapping)
			r.Post("/sessions/{id}/mapping/reset", s.handleResetMapping)
			r.Post("/sessions/{id}/preset/{presetID}", s.handleApplyPreset)
			r.Post("/sessions/{id}/validate", s.handleValidate)
			r.Post("/sessions/{id}/back", s.handleBack)
			r.Get("/sessions/{id}/results", s.handleResults)
			r.Get("/sessions/{id}/failed-rows", s.handleExportFailedRows)

			// Import
			r.With(uploads).Post("/sessions/{id}/import", s.handleStartImport)
			r.With(uploads).Post("/sessions/{id}/retry", s.handleRetry)

			// Saved mappings
			r.Get("/presets/{type}", s.handleListPresets)
			r.Post("/presets/{type}", s.handleSavePreset)
			r.Get("/presets/{type}/match", s.handleMatchPresets)
			r.Delete("/preset/{id}", s.handleDeletePreset)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
