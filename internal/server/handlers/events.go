package handlers

import (
	"net/http"

	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/internal/server/response"
)

// HandleEvents handles GET /api/events: a Server-Sent Events stream of the
// session account's run and connection events.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.live(w, r)
	if !ok {
		return
	}
	h.stream.Serve(w, r, accountID)
}

// HandleWebSocket handles GET /api/ws: the same events over a WebSocket.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.live(w, r)
	if !ok {
		return
	}
	h.sockets.Serve(w, r, accountID)
}

// live returns the session account for an event stream, writing the error
// response when there is none.
func (h *Handlers) live(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.events == nil {
		response.ServiceUnavailable(w, "Live events are disabled")
		return "", false
	}
	cred, ok := h.connected(r)
	if !ok {
		response.Forbidden(w, pricesync.MessageNotConnected, "")
		return "", false
	}
	return cred.AccountID, true
}
