package handlers

import (
	"net/http"

	"github.com/pricesync/pricesync/internal/server/response"
)

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "ok",
		"service": "pricesync",
		"version": h.version,
	})
}

// HandleReady handles GET /ready. The service is ready once the credential
// store answers.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.List(r.Context()); err != nil {
		h.log(r).Warn().Err(err).Msg("credential store not ready")
		response.ServiceUnavailable(w, "credential store not reachable")
		return
	}
	response.OK(w, map[string]any{"status": "ready"})
}
