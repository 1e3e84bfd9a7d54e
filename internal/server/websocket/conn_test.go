package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/pkg/logging"
)

func setup(t *testing.T) (*events.Broker, context.CancelFunc, string) {
	t.Helper()
	nop := logging.NewNopLogger()
	broker := events.NewBroker(nop)
	ctx, cancel := context.WithCancel(context.Background())
	go broker.Run(ctx)
	t.Cleanup(cancel)

	h := New(broker, nop)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.URL.Query().Get("account"))
	}))
	t.Cleanup(srv.Close)
	return broker, cancel, "ws" + strings.TrimPrefix(srv.URL, "http") + "?account=acc-1"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHandler_StreamsAccountEvents(t *testing.T) {
	broker, _, url := setup(t)
	conn := dial(t, url)

	var hello events.Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, events.StreamConnected, hello.Type)
	assert.Equal(t, "acc-1", hello.AccountID)

	broker.Publish(events.PreviewFinished, "acc-2", nil)
	broker.Publish(events.PreviewFinished, "acc-1", map[string]int{"increases": 1})

	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.PreviewFinished, e.Type)
	assert.Equal(t, uint64(2), e.ID)
	assert.Equal(t, map[string]any{"increases": float64(1)}, e.Data)
}

func TestHandler_ClosesWhenBrokerStops(t *testing.T) {
	broker, cancel, url := setup(t)
	conn := dial(t, url)

	var hello events.Event
	require.NoError(t, conn.ReadJSON(&hello))

	cancel()

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandler_UnsubscribesWhenPeerLeaves(t *testing.T) {
	broker, _, url := setup(t)
	conn := dial(t, url)

	var hello events.Event
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, 1, broker.SubscriberCount())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RefusesCrossOrigin(t *testing.T) {
	broker, _, url := setup(t)

	header := http.Header{"Origin": []string{"https://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, broker.SubscriberCount())
}
