package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// requestTimeout bounds every route except the result stream.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Database, s.deps.Gallery)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", healthHandler.Check)

	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		if s.deps.Board != nil {
			resultsHandler := handlers.NewResultsHandler(s.deps.Board)
			r.Get("/results/stream", resultsHandler.Stream)
			r.With(chiMiddleware.Timeout(requestTimeout)).Get("/results", resultsHandler.Latest)
		}

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			if s.deps.Gallery != nil {
				galleryHandler := handlers.NewGalleryHandler(s.deps.Gallery, s.logger)
				r.Get("/gallery", galleryHandler.List)
				r.Get("/gallery/identities/{id}", galleryHandler.Get)
				r.With(middleware.RequireToken(s.config.APIToken)).Post("/gallery/reload", galleryHandler.Reload)
			}

			if s.deps.Events != nil {
				eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.logger)
				r.Get("/events/recent", eventsHandler.Recent)
			}

			if s.deps.Scanner != nil {
				scanHandler := handlers.NewScanHandler(s.deps.Scanner, s.logger)
				r.With(middleware.RequireToken(s.config.APIToken)).Post("/scan", scanHandler.Scan)
			}
		})
	})
}
