/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin dashboard

SECURITY NOTE:
  No authentication middleware; authn/authz is owned by the surrounding
  platform gateway, not this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/budgetd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api/budget", func(r chi.Router) {
		r.Get("/availability", h.CheckAvailability)

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reserve)
			r.Post("/{prID}/commit", h.Commit)
			r.Post("/{prID}/release", h.Release)
		})

		r.Post("/sweep", h.Sweep)

		r.Get("/allocations/{fiscalYear}/{budgetLineID}/{departmentID}", h.GetAllocation)
	})

	return r
}
