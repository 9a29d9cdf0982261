// Package server exposes the query API's five read routes over chi,
// adapted from the teacher's ServeMux-based server onto chi+cors since the
// API here is JSON-only with no session/cookie layer.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"transitalerts/internal/config"
	"transitalerts/internal/query"
)

// Server is the HTTP server for the query API.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a new Server with all routes registered.
func New(cfg *config.Config, svc *query.Service, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	h := newHandler(svc, logger)

	r.Get("/api/all_alerts", h.allAlerts)
	r.Get("/api/single_alert", h.singleAlert)
	r.Get("/api/get_route_changes", h.getRouteChanges)
	r.Get("/api/all_lines", h.allLines)
	r.Get("/api/single_line", h.singleLine)

	return &Server{router: r, cfg: cfg, logger: logger}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}
