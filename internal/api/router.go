package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/login", s.handleLogin)
		})

		// Monitoring; scrape targets rarely carry tokens.
		r.Get("/metrics", s.handleMetrics)
		if s.metrics != nil {
			r.Handle("/metrics/prometheus", s.metrics.Handler())
		}

		// WebSocket authenticates with a single-use ticket in the handler.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimitMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/setup", func(r chi.Router) {
				r.Get("/", s.handleSetupForm)
				r.Post("/", s.handleSetupSubmit)
			})

			r.Route("/entries", func(r chi.Router) {
				r.Get("/", s.handleListEntries)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEntry)
					r.Delete("/", s.handleDeleteEntry)
					r.Post("/discover", s.handleDiscoverEntry)
				})
			})

			r.Route("/locks", func(r chi.Router) {
				r.Get("/", s.handleListLocks)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetLock)
					r.Post("/unlock", s.handleUnlock)
					r.Post("/lock", s.handleLock)
				})
			})

			r.Route("/doorman", func(r chi.Router) {
				r.Get("/", s.handleDoormanStatus)
				r.Post("/lock", s.handleDoormanLock)
				r.Post("/unlock", s.handleDoormanUnlock)
			})

			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}
