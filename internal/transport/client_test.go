package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesync/pricesync/internal/transport"
	"github.com/pricesync/pricesync/pkg/errors"
)

func TestPostJSONSetsHeaders(t *testing.T) {
	type seen struct {
		header http.Header
		body   string
	}
	ch := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		ch <- seen{header: r.Header.Clone(), body: string(b)}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := transport.New(&transport.BearerAuth{},
		transport.WithService("jobber"),
		transport.WithHeader("X-JOBBER-GRAPHQL-VERSION", "2026-02-17"))

	resp, err := c.PostJSON(context.Background(), srv.URL, "at-1", map[string]string{"query": "{ x }"})
	require.NoError(t, err)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.DecodeResponse(resp, &out))
	assert.True(t, out.OK)

	got := <-ch
	assert.Equal(t, "Bearer at-1", got.header.Get("Authorization"))
	assert.Equal(t, "2026-02-17", got.header.Get("X-JOBBER-GRAPHQL-VERSION"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.JSONEq(t, `{"query":"{ x }"}`, got.body)
}

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := transport.New(nil)
	resp, err := c.PostForm(context.Background(), srv.URL, url.Values{"grant_type": {"refresh_token"}})
	require.NoError(t, err)
	require.NoError(t, c.DecodeResponse(resp, nil))
}

func TestDecodeResponseStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{name: "401", status: http.StatusUnauthorized, unauthorized: true},
		{name: "400", status: http.StatusBadRequest},
		{name: "502", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := transport.New(&transport.BearerAuth{}, transport.WithService("jobber"))
			resp, err := c.PostJSON(context.Background(), srv.URL, "tok", struct{}{})
			require.NoError(t, err)

			err = c.DecodeResponse(resp, &struct{}{})
			var apiErr *errors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "jobber", apiErr.Service)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, tt.unauthorized, errors.IsUnauthorized(err))
		})
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := transport.New(nil)
	resp, err := c.PostJSON(context.Background(), srv.URL, "", nil)
	require.NoError(t, err)

	err = c.DecodeResponse(resp, &struct{}{})
	var parseErr *errors.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := transport.New(nil, transport.WithTimeout(50*time.Millisecond))
	_, err := c.PostJSON(context.Background(), srv.URL, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := transport.New(nil)
	_, err := c.PostJSON(ctx, srv.URL, "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
