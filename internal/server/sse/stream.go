// Package sse streams account events to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/pkg/logging"
)

// DefaultKeepAlive is the interval of comment lines that keep idle
// connections open through proxies.
const DefaultKeepAlive = 25 * time.Second

// Stream serves event streams from a broker.
type Stream struct {
	broker    *events.Broker
	keepAlive time.Duration
	logger    *zerolog.Logger
}

// New creates a Stream. keepAlive <= 0 selects DefaultKeepAlive.
func New(broker *events.Broker, keepAlive time.Duration, logger *zerolog.Logger) *Stream {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Stream{broker: broker, keepAlive: keepAlive, logger: logger}
}

// Serve streams the events of accountID until the client goes away or the
// broker stops.
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, accountID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := events.NewClient(64)
	s.broker.Subscribe(accountID, client)
	defer s.broker.Unsubscribe(client)

	s.write(w, flusher, events.Event{
		Type:      events.StreamConnected,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
	})

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e := <-client.Events():
			if !s.write(w, flusher, e) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-client.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// write sends one event frame. It reports false when the connection is gone.
func (s *Stream) write(w http.ResponseWriter, flusher http.Flusher, e events.Event) bool {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(e.Type)).Msg("marshal event")
		return true
	}

	if e.ID != 0 {
		if _, err := fmt.Fprintf(w, "id: %s\n", strconv.FormatUint(e.ID, 10)); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
