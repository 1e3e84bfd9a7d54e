// Package handlers provides the HTTP handlers of the pricesync service.
package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/jobber"
	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/internal/server/cache"
	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/session"
	"github.com/pricesync/pricesync/internal/server/sse"
	"github.com/pricesync/pricesync/internal/server/websocket"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/feed"
	"github.com/pricesync/pricesync/pkg/logging"
)

// Authorizer runs the OAuth connect flow and hands out access tokens.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (credentials.Tokens, error)
	GetValidToken(ctx context.Context, accountID string) (string, error)
}

// AccountClient queries and releases the connected Jobber account.
type AccountClient interface {
	Account(ctx context.Context, token string) (*jobber.Account, error)
	Disconnect(ctx context.Context, token string) error
}

// Runner executes sync and preview runs.
type Runner interface {
	RunSync(ctx context.Context, accountID string, rows []feed.Row, opts ...pricesync.Option) *pricesync.SyncResult
	RunPreview(ctx context.Context, accountID string, rows []feed.Row, opts ...pricesync.Option) *pricesync.PreviewResult
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Store         credentials.Store
	Auth          Authorizer
	Jobber        AccountClient
	Engine        Runner
	Sessions      *session.Signer
	Events        *events.Broker // optional; live run and account events
	Webhooks      *cache.Seen    // optional; drops redelivered webhooks
	WebhookSecret string         // OAuth client secret; signs Jobber webhooks
	MaxUploadSize int64
	Version       string
	Logger        *zerolog.Logger
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	store         credentials.Store
	auth          Authorizer
	jobber        AccountClient
	engine        Runner
	sessions      *session.Signer
	events        *events.Broker
	stream        *sse.Stream
	sockets       *websocket.Handler
	webhooks      *cache.Seen
	webhookSecret string
	maxUpload     int64
	version       string
	logger        *zerolog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	h := &Handlers{
		store:         d.Store,
		auth:          d.Auth,
		jobber:        d.Jobber,
		engine:        d.Engine,
		sessions:      d.Sessions,
		events:        d.Events,
		webhooks:      d.Webhooks,
		webhookSecret: d.WebhookSecret,
		maxUpload:     d.MaxUploadSize,
		version:       d.Version,
		logger:        d.Logger,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = constants.MaxUploadSize
	}
	if h.logger == nil {
		h.logger = logging.Default()
	}
	if h.webhooks == nil {
		h.webhooks = cache.NewSeen(cache.DefaultTTL)
	}
	if h.events != nil {
		h.stream = sse.New(h.events, 0, h.logger)
		h.sockets = websocket.New(h.events, h.logger)
	}
	return h
}

// connected returns the stored credential for the session's account.
func (h *Handlers) connected(r *http.Request) (*credentials.Credential, bool) {
	accountID, ok := h.sessions.Account(r)
	if !ok {
		return nil, false
	}
	cred, err := h.store.Get(r.Context(), accountID)
	if err != nil {
		if !errors.IsNotFound(err) {
			h.log(r).Warn().Err(err).Str("account_id", accountID).Msg("credential lookup failed")
		}
		return nil, false
	}
	return cred, true
}

// log returns the request-scoped logger, falling back to the handler logger.
func (h *Handlers) log(r *http.Request) *zerolog.Logger {
	if logging.RequestID(r.Context()) != "" {
		return logging.FromContext(r.Context())
	}
	return h.logger
}
