package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the debug HTTP surface: liveness and stats, nothing
// else. It carries no auth middleware, since this surface is
// unauthenticated-by-default observability for a single local session, not
// a multi-tenant API.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/stats", h.Stats)

	return r
}
