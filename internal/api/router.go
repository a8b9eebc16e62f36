/**
 * @description
 * This file sets up the HTTP router for the stats service read surface
 * using the go-chi/chi router. It defines the report-consumer routes and
 * applies middleware for logging, panic recovery, timeouts, and CORS.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the stats-service routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Stats service is healthy"))
	})

	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/snapshots/{date}", h.handleGetSnapshot)
		r.Get("/trend/{date}", h.handleGetTrend)
		r.Get("/history", h.handleGetHistory)
	})

	return r
}
