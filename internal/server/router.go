package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pricesync/pricesync/internal/server/handlers"
	"github.com/pricesync/pricesync/internal/server/middleware"
	"github.com/pricesync/pricesync/internal/server/response"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(s.logger),
		middleware.Logger(s.logger),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Not found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r.Method)
	})

	s.registerRoutes(r, s.handlers)
	return r
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(r chi.Router, h *handlers.Handlers) {
	// Return 204 No Content to keep browsers from logging 404s.
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/", h.HandleIndex)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	// OAuth connect flow
	r.Get("/connect", h.HandleConnect)
	r.Get("/oauth/callback", h.HandleCallback)
	r.Get("/disconnect", h.HandleDisconnect)
	r.Post("/disconnect", h.HandleDisconnect)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/sync", h.HandleSync)
		r.Post("/preview", h.HandlePreview)
		r.Get("/events", h.HandleEvents)
		r.Get("/ws", h.HandleWebSocket)
	})

	r.Post("/webhooks/jobber", h.HandleWebhook)
}
