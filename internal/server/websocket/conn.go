// Package websocket streams account events over WebSocket connections.
package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/pkg/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

// Handler upgrades requests and streams events to them.
type Handler struct {
	broker   *events.Broker
	upgrader websocket.Upgrader
	logger   *zerolog.Logger
}

// New creates a Handler. Cross-origin upgrades are refused.
func New(broker *events.Broker, logger *zerolog.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Serve upgrades the connection and streams the events of accountID until
// either side closes it or the broker stops.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, accountID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := events.NewClient(64)
	h.broker.Subscribe(accountID, client)

	go h.readPump(conn, client)
	h.writePump(conn, client, accountID)
	h.broker.Unsubscribe(client)
}

// readPump discards client frames and closes client when the peer leaves.
func (h *Handler) readPump(conn *websocket.Conn, client *events.Client) {
	defer client.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *events.Client, accountID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	hello := events.Event{Type: events.StreamConnected, AccountID: accountID, Timestamp: time.Now().UTC()}
	if err := h.write(conn, hello); err != nil {
		return
	}

	for {
		select {
		case e := <-client.Events():
			if err := h.write(conn, e); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, e events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
