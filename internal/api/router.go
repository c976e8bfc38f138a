/**
 * @description
 * HTTP router setup for the scheduler's operational endpoints using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// requestTimeout bounds every route except manual cycle runs.
const requestTimeout = 60 * time.Second

// NewRouter creates a new Chi router and registers the ops routes.
func NewRouter(h *Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(middleware.Timeout(requestTimeout)).Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Scheduler service is healthy"))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/cycles", h.handleListCycles)
			r.Get("/subscriptions/{id}", h.handleGetSubscription)
		})

		// A manual run is synchronous and may outlast requestTimeout.
		r.Post("/cycles/{name}/run", h.handleRunCycle)
	})

	return r
}
