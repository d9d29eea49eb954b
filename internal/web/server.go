// Package web serves the import HTTP API and the run status page.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/recimport/internal/config"
	"github.com/JonMunkholm/recimport/internal/importer"
	weblog "github.com/JonMunkholm/recimport/internal/web/middleware"
)

// Server is the HTTP front end of an import service.
type Server struct {
	service *importer.Service
	history *importer.History
	cfg     config.Config
	logger  *slog.Logger
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires the routes for service. history may be nil.
func NewServer(service *importer.Service, history *importer.History, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: service,
		history: history,
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(weblog.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	// Progress streams live as long as the run, so they sit outside the
	// request timeout.
	s.router.Get("/api/runs/{runID}/progress", s.handleRunProgress)

	s.router.Group(func(r chi.Router) {
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}

		r.Get("/healthz", s.handleHealth)
		r.Get("/runs/{runID}", s.handleRunPage)

		r.Route("/api", func(r chi.Router) {
			r.Get("/jobs", s.handleListJobs)
			r.Get("/tables", s.handleListTables)
			r.Get("/history", s.handleHistory)

			r.Post("/jobs/{job}/runs", s.handleStartRun)
			r.Get("/runs/{runID}/result", s.handleRunResult)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)
			r.Get("/runs/{runID}/failures", s.handleRunFailures)
		})
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", sc.Addr())
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

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON. Encoding errors are only logged since the
// header is already sent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("json encode", "error", err)
	}
}
