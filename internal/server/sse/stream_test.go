package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/pkg/logging"
)

type frame struct {
	id    string
	event string
	data  string
}

// readFrame reads one event frame, skipping keep-alive comments.
func readFrame(t *testing.T, r *bufio.Reader) frame {
	t.Helper()
	var f frame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func setup(t *testing.T, keepAlive time.Duration) (*events.Broker, context.CancelFunc, *httptest.Server) {
	t.Helper()
	nop := logging.NewNopLogger()
	broker := events.NewBroker(nop)
	ctx, cancel := context.WithCancel(context.Background())
	go broker.Run(ctx)
	t.Cleanup(cancel)

	stream := New(broker, keepAlive, nop)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.Serve(w, r, r.URL.Query().Get("account"))
	}))
	t.Cleanup(srv.Close)
	return broker, cancel, srv
}

func TestStream_DeliversAccountEvents(t *testing.T) {
	broker, _, srv := setup(t, time.Minute)

	resp, err := http.Get(srv.URL + "?account=acc-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	r := bufio.NewReader(resp.Body)
	hello := readFrame(t, r)
	assert.Equal(t, string(events.StreamConnected), hello.event)
	assert.Empty(t, hello.id)

	broker.Publish(events.SyncFinished, "acc-2", "other account")
	broker.Publish(events.SyncFinished, "acc-1", map[string]int{"updated": 2})

	f := readFrame(t, r)
	assert.Equal(t, "2", f.id)
	assert.Equal(t, string(events.SyncFinished), f.event)

	var e events.Event
	require.NoError(t, json.Unmarshal([]byte(f.data), &e))
	assert.Equal(t, "acc-1", e.AccountID)
	assert.Equal(t, map[string]any{"updated": float64(2)}, e.Data)
}

func TestStream_KeepAlive(t *testing.T) {
	_, _, srv := setup(t, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "?account=acc-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readFrame(t, r)

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == ": keep-alive\n" {
			return
		}
	}
}

func TestStream_EndsWhenBrokerStops(t *testing.T) {
	broker, cancel, srv := setup(t, time.Minute)

	resp, err := http.Get(srv.URL + "?account=acc-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readFrame(t, r)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()

	_, err = io.ReadAll(r)
	assert.NoError(t, err)
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_UnsubscribesWhenClientLeaves(t *testing.T) {
	broker, _, srv := setup(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?account=acc-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	readFrame(t, bufio.NewReader(resp.Body))
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type noFlush struct{ http.ResponseWriter }

func TestStream_RequiresFlusher(t *testing.T) {
	stream := New(events.NewBroker(logging.NewNopLogger()), 0, nil)
	rec := httptest.NewRecorder()

	stream.Serve(noFlush{rec}, httptest.NewRequest(http.MethodGet, "/", nil), "acc-1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, DefaultKeepAlive, stream.keepAlive)
}
