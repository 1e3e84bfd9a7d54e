package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/jobber"
	"github.com/pricesync/pricesync/internal/jobber/jobbertest"
	"github.com/pricesync/pricesync/internal/oauth"
	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/handlers"
	"github.com/pricesync/pricesync/internal/server/session"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/logging"
)

const (
	secretKey    = "test-secret"
	clientSecret = "client-secret"
	account      = "acc-1"
)

type env struct {
	fake    *jobbertest.Server
	store   *credentials.MemoryStore
	signer  *session.Signer
	events  *events.Broker
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	fake := jobbertest.NewServer()
	t.Cleanup(fake.Close)
	fake.SetProducts(
		jobbertest.Product{ID: "id-1", Name: "SKU1", Cost: 5.0},
		jobbertest.Product{ID: "id-2", Name: "SKU2", Cost: 20.0},
	)

	nop := logging.NewNopLogger()
	store := credentials.NewMemoryStore()
	client := jobber.NewClient(
		jobber.WithEndpoint(fake.GraphQLURL()),
		jobber.WithPageDelay(0),
		jobber.WithLogger(nop))
	manager := oauth.NewManager(store, oauth.Config{
		ClientID:     "client-id",
		ClientSecret: clientSecret,
		TokenURL:     fake.TokenURL(),
		AuthorizeURL: fake.AuthorizeURL(),
		RedirectURL:  "http://localhost:8000/oauth/callback",
	}, oauth.WithLogger(nop))
	engine := pricesync.NewEngine(client, manager,
		pricesync.WithCallDelay(0),
		pricesync.WithLogger(nop))

	broker := events.NewBroker(nop)
	ctx, cancel := context.WithCancel(context.Background())
	go broker.Run(ctx)
	t.Cleanup(cancel)

	cfg := DefaultConfig()
	cfg.SecretKey = secretKey
	srv := New(cfg, handlers.Deps{
		Store:         store,
		Events:        broker,
		Auth:          manager,
		Jobber:        client,
		Engine:        engine,
		WebhookSecret: clientSecret,
		Logger:        nop,
	})

	return &env{
		fake:    fake,
		store:   store,
		signer:  session.NewSigner(secretKey, false),
		events:  broker,
		handler: srv.Handler(),
	}
}

// connect stores a credential the fake accepts and returns its session cookie.
func (e *env) connect(t *testing.T) *http.Cookie {
	t.Helper()
	e.fake.AcceptAccessToken("at-0")
	e.fake.AcceptRefreshToken("rt-0")
	require.NoError(t, e.store.Upsert(context.Background(), credentials.Credential{
		AccountID:    account,
		AccountName:  "Acme Plumbing",
		AccessToken:  "at-0",
		RefreshToken: "rt-0",
	}))
	return &http.Cookie{Name: constants.AccountCookie, Value: e.signer.Sign(account)}
}

func (e *env) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func upload(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

const feedCSV = "Part_Num,Trade_Cost,Description\nSKU1,10.50,Widget\nSKU2,15.00,Gadget\nMISSING,1.00,Nope\n"

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	decode(t, rec, &data)
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoutes(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec, nil).Error.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConnectRedirectsWithState(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/connect", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), e.fake.AuthorizeURL()))
	assert.Equal(t, "client-id", loc.Query().Get("client_id"))

	state := cookieNamed(rec, constants.OAuthStateCookie)
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, state.Value, loc.Query().Get("state"))
}

func TestCallback(t *testing.T) {
	stateCookie := &http.Cookie{Name: constants.OAuthStateCookie, Value: "state-1"}

	t.Run("connects account", func(t *testing.T) {
		e := newEnv(t)
		e.fake.AcceptAuthCode("code-1")
		e.fake.SetAccount("acc-9", "Bright Electric")

		rec := e.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?code=code-1&state=state-1", nil), stateCookie)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))

		acct := cookieNamed(rec, constants.AccountCookie)
		require.NotNil(t, acct)
		id, ok := e.signer.Verify(acct.Value)
		require.True(t, ok)
		assert.Equal(t, "acc-9", id)

		cleared := cookieNamed(rec, constants.OAuthStateCookie)
		require.NotNil(t, cleared)
		assert.Equal(t, -1, cleared.MaxAge)

		cred, err := e.store.Get(context.Background(), "acc-9")
		require.NoError(t, err)
		assert.Equal(t, "Bright Electric", cred.AccountName)
		assert.Equal(t, "at-1", cred.AccessToken)
		assert.Equal(t, "rt-1", cred.RefreshToken)
		require.NotNil(t, cred.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *cred.ExpiresAt, time.Minute)
	})

	tests := []struct {
		name    string
		query   string
		cookies []*http.Cookie
		code    string
	}{
		{name: "missing code", query: "state=state-1", cookies: []*http.Cookie{stateCookie}, code: "no_code"},
		{name: "state mismatch", query: "code=code-1&state=other", cookies: []*http.Cookie{stateCookie}, code: "invalid_state"},
		{name: "no state cookie", query: "code=code-1&state=state-1", code: "invalid_state"},
		{name: "unknown code", query: "code=bogus&state=state-1", cookies: []*http.Cookie{stateCookie}, code: "token_exchange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.fake.AcceptAuthCode("code-1")

			rec := e.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?"+tt.query, nil), tt.cookies...)

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/?error="+tt.code, rec.Header().Get("Location"))
			assert.Nil(t, cookieNamed(rec, constants.AccountCookie))

			creds, err := e.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, creds)
		})
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	cookie := e.connect(t)

	var st handlers.Status
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/status", nil), cookie)
	decode(t, rec, &st)
	assert.True(t, st.Connected)
	assert.Equal(t, "Acme Plumbing", st.AccountName)

	st = handlers.Status{}
	decode(t, e.do(httptest.NewRequest(http.MethodGet, "/api/status", nil)), &st)
	assert.False(t, st.Connected)

	forged := &http.Cookie{Name: constants.AccountCookie, Value: account + ".00"}
	st = handlers.Status{}
	decode(t, e.do(httptest.NewRequest(http.MethodGet, "/api/status", nil), forged), &st)
	assert.False(t, st.Connected)
}

func TestIndexReportsCallbackError(t *testing.T) {
	e := newEnv(t)
	var st handlers.Status
	decode(t, e.do(httptest.NewRequest(http.MethodGet, "/?error=invalid_state", nil)), &st)
	assert.Equal(t, "invalid_state", st.Error)
	assert.False(t, st.Connected)
}

func TestSync(t *testing.T) {
	t.Run("updates matched rows", func(t *testing.T) {
		e := newEnv(t)
		cookie := e.connect(t)

		rec := e.do(upload(t, "/api/sync", "feed.csv", feedCSV, map[string]string{
			"only_increase_cost": "true",
			"markup_percent":     "20",
		}), cookie)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res pricesync.SyncResult
		decode(t, rec, &res)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 1, res.SkippedProtected)
		assert.Equal(t, []string{"MISSING"}, res.NotFound)

		updates := e.fake.Updates()
		require.Len(t, updates, 1)
		assert.Equal(t, "id-1", updates[0].ID)
		require.NotNil(t, updates[0].Price)
		assert.InDelta(t, 12.6, *updates[0].Price, 1e-9)
	})

	t.Run("requires session", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(upload(t, "/api/sync", "feed.csv", feedCSV, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, e.fake.Updates())
	})

	t.Run("session for deleted account", func(t *testing.T) {
		e := newEnv(t)
		cookie := &http.Cookie{Name: constants.AccountCookie, Value: e.signer.Sign("gone")}
		rec := e.do(upload(t, "/api/sync", "feed.csv", feedCSV, nil), cookie)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
	}{
		{name: "wrong extension", filename: "feed.txt", content: feedCSV},
		{name: "missing file", filename: ""},
		{name: "missing columns", filename: "feed.csv", content: "SKU,Price\nA,1\n"},
		{name: "no valid rows", filename: "feed.csv", content: "Part_Num,Trade_Cost\nA,free\n"},
		{name: "bad markup", filename: "feed.csv", content: feedCSV, fields: map[string]string{"markup_percent": "lots"}},
		{name: "bad flag", filename: "feed.csv", content: feedCSV, fields: map[string]string{"fuzzy_match": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			cookie := e.connect(t)

			rec := e.do(upload(t, "/api/sync", tt.filename, tt.content, tt.fields), cookie)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "BAD_REQUEST", decode(t, rec, nil).Error.Code)
			assert.Empty(t, e.fake.Updates())
		})
	}

	t.Run("uppercase extension accepted", func(t *testing.T) {
		e := newEnv(t)
		cookie := e.connect(t)
		rec := e.do(upload(t, "/api/sync", "FEED.CSV", feedCSV, nil), cookie)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPreview(t *testing.T) {
	e := newEnv(t)
	cookie := e.connect(t)

	rec := e.do(upload(t, "/api/preview", "feed.csv", feedCSV, map[string]string{"fuzzy_match": "on"}), cookie)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res pricesync.PreviewResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Increases)
	assert.Equal(t, 1, res.Decreases)
	assert.Equal(t, []string{"MISSING"}, res.NotFound)
	assert.Empty(t, e.fake.Updates())
}

func TestDisconnect(t *testing.T) {
	t.Run("redirects and clears state", func(t *testing.T) {
		e := newEnv(t)
		cookie := e.connect(t)

		rec := e.do(httptest.NewRequest(http.MethodGet, "/disconnect", nil), cookie)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
		assert.Equal(t, 1, e.fake.Disconnects())

		_, err := e.store.Get(context.Background(), account)
		assert.True(t, errors.IsNotFound(err))

		cleared := cookieNamed(rec, constants.AccountCookie)
		require.NotNil(t, cleared)
		assert.Equal(t, -1, cleared.MaxAge)
	})

	t.Run("remote failure still clears local state", func(t *testing.T) {
		e := newEnv(t)
		cookie := e.connect(t)
		e.fake.SetGraphQLStatus(http.StatusInternalServerError)

		req := httptest.NewRequest(http.MethodPost, "/disconnect", nil)
		req.Header.Set("Accept", "application/json")
		rec := e.do(req, cookie)

		require.Equal(t, http.StatusOK, rec.Code)
		var st handlers.Status
		decode(t, rec, &st)
		assert.False(t, st.Connected)

		_, err := e.store.Get(context.Background(), account)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("without session", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(httptest.NewRequest(http.MethodGet, "/disconnect", nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, 0, e.fake.Disconnects())
	})
}

func TestWebhook(t *testing.T) {
	payload := func(topic, accountID string) []byte {
		return []byte(`{"data":{"webHookEvent":{"topic":"` + topic + `","accountId":"` + accountID + `"}}}`)
	}
	post := func(e *env, body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/jobber", bytes.NewReader(body))
		req.Header.Set(constants.JobberWebhookSignatureHeader, signature)
		return e.do(req)
	}

	t.Run("app disconnect deletes credential", func(t *testing.T) {
		e := newEnv(t)
		e.connect(t)
		body := payload("APP_DISCONNECT", account)

		rec := post(e, body, session.SignWebhook(body, clientSecret))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
		_, err := e.store.Get(context.Background(), account)
		assert.True(t, errors.IsNotFound(err))

		rec = post(e, body, session.SignWebhook(body, clientSecret))
		assert.Equal(t, http.StatusOK, rec.Code, "repeat delivery is acknowledged")
	})

	t.Run("redelivery has no effect", func(t *testing.T) {
		e := newEnv(t)
		e.connect(t)
		body := []byte(`{"data":{"webHookEvent":{"topic":"APP_DISCONNECT","accountId":"acc-1","itemId":"acc-1","occurredAt":"2026-10-01T10:00:00Z"}}}`)
		require.Equal(t, http.StatusOK, post(e, body, session.SignWebhook(body, clientSecret)).Code)

		// The account reconnects; the stale redelivery must not remove it.
		e.connect(t)
		rec := post(e, body, session.SignWebhook(body, clientSecret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
		_, err := e.store.Get(context.Background(), account)
		assert.NoError(t, err)
	})

	t.Run("other topics are acknowledged", func(t *testing.T) {
		e := newEnv(t)
		e.connect(t)
		body := payload("CLIENT_CREATE", account)

		rec := post(e, body, session.SignWebhook(body, clientSecret))

		assert.Equal(t, http.StatusOK, rec.Code)
		_, err := e.store.Get(context.Background(), account)
		assert.NoError(t, err)
	})

	t.Run("invalid signature", func(t *testing.T) {
		e := newEnv(t)
		e.connect(t)
		body := payload("APP_DISCONNECT", account)

		rec := post(e, body, session.SignWebhook(body, "wrong-secret"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		_, err := e.store.Get(context.Background(), account)
		assert.NoError(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		e := newEnv(t)
		body := []byte(`{"data":`)
		rec := post(e, body, session.SignWebhook(body, clientSecret))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecretKey = secretKey
	srv := New(cfg, handlers.Deps{Store: credentials.NewMemoryStore(), Logger: logging.NewNopLogger()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestEvents(t *testing.T) {
	t.Run("requires a connected session", func(t *testing.T) {
		e := newEnv(t)
		for _, path := range []string{"/api/events", "/api/ws"} {
			rec := e.do(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusForbidden, rec.Code, path)
		}
	})

	t.Run("sync result is streamed", func(t *testing.T) {
		e := newEnv(t)
		cookie := e.connect(t)
		ts := httptest.NewServer(e.handler)
		t.Cleanup(ts.Close)

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
		require.NoError(t, err)
		req.AddCookie(cookie)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		r := bufio.NewReader(resp.Body)
		assert.Equal(t, "event: "+string(events.StreamConnected), nextEvent(t, r))

		rec := e.do(upload(t, "/api/sync", "feed.csv", "Part_Num,Trade_Cost\nSKU1,7.50\n", nil), cookie)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, "event: "+string(events.SyncFinished), nextEvent(t, r))
	})
}

// nextEvent returns the next "event:" line of an SSE stream.
func nextEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			return strings.TrimSpace(line)
		}
	}
}
