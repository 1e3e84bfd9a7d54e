// Package oauth manages the Jobber OAuth token lifecycle: the connect flow,
// proactive refresh before expiry and the reactive refresh after a 401.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/transport"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/logging"
)

const serviceName = "jobber-oauth"

// Config holds the OAuth application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthorizeURL string
	RedirectURL  string
	Timeout      time.Duration
}

// TokenResponse is the token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"`
}

// Manager hands out valid access tokens for stored accounts.
type Manager struct {
	cfg       Config
	store     credentials.Store
	transport *transport.Client
	http      *http.Client
	oauth     *oauth2.Config
	group     singleflight.Group
	now       func() time.Time
	buffer    time.Duration
	logger    *zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHTTPClient replaces the client used for token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) {
		if hc != nil {
			m.http = hc
		}
	}
}

// WithExpiryBuffer sets how close to expiry a token is refreshed proactively.
func WithExpiryBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.buffer = d
		}
	}
}

// NewManager creates a Manager over store.
func NewManager(store credentials.Store, cfg Config, opts ...Option) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = constants.JobberTokenURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = constants.JobberAuthorizeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.TokenRequestTimeout
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		http:   &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		buffer: constants.TokenExpiryBuffer,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.transport = transport.New(&transport.NoAuth{},
		transport.WithService(serviceName),
		transport.WithHTTPClient(m.http))
	m.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return m
}

// Store returns the credential store the manager reads and writes.
func (m *Manager) Store() credentials.Store {
	return m.store
}

// GetValidToken returns a usable access token for accountID. Tokens with an
// unknown expiry, or more than the expiry buffer away from it, are returned
// as stored. Otherwise the token is refreshed and persisted first. If that
// refresh fails the stored token is returned anyway and a warning logged.
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, error) {
	cred, err := m.load(ctx, accountID)
	if err != nil {
		return "", err
	}

	if cred.ExpiresAt == nil || cred.ExpiresAt.Sub(m.now()) > m.buffer {
		return cred.AccessToken, nil
	}

	token, err := m.RefreshAndPersist(ctx, accountID)
	if err != nil {
		m.logger.Warn().Err(err).Str("account_id", accountID).
			Time("expires_at", *cred.ExpiresAt).
			Msg("proactive token refresh failed, using stored token")
		return cred.AccessToken, nil
	}
	return token, nil
}

// RefreshAndPersist spends the stored refresh token and atomically stores
// the rotated pair. Concurrent calls for one account share a single refresh.
//
// The endpoint spends the refresh token on receipt, so once started the
// refresh and the write of the new pair finish even if ctx is canceled;
// they are bounded by the token request timeout instead. A canceled caller
// stops waiting and gets ctx.Err().
func (m *Manager) RefreshAndPersist(ctx context.Context, accountID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(accountID, func() (any, error) {
		ctx, cancel := context.WithTimeout(detached, 2*m.cfg.Timeout)
		defer cancel()
		return m.refreshAndPersist(ctx, accountID)
	})

	select {
	case <-ctx.Done():
		m.logger.Debug().Str("account_id", accountID).Msg("stopped waiting for token refresh")
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug().Str("account_id", accountID).Msg("joined in-flight token refresh")
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refreshAndPersist(ctx context.Context, accountID string) (string, error) {
	cred, err := m.load(ctx, accountID)
	if err != nil {
		return "", err
	}

	resp, err := m.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	tokens := credentials.Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    credentials.ExpiresIn(m.now(), resp.ExpiresIn),
	}
	if err := m.store.UpdateTokens(ctx, accountID, tokens); err != nil {
		return "", errors.WrapResource("update", "credential", accountID, err)
	}

	m.logger.Info().Str("account_id", accountID).Msg("access token refreshed")
	return resp.AccessToken, nil
}

// Refresh exchanges a refresh token for a new token pair. Both tokens must
// be present in the response.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.NewAuthenticationError(serviceName, "refresh_token", "no refresh token stored", nil)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}

	resp, err := m.transport.PostForm(ctx, m.cfg.TokenURL, form)
	if err != nil {
		return nil, errors.NewAuthenticationError(serviceName, "refresh_token", "token request failed", err)
	}

	var out TokenResponse
	if err := m.transport.DecodeResponse(resp, &out); err != nil {
		return nil, errors.NewAuthenticationError(serviceName, "refresh_token", "token endpoint rejected refresh", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, errors.NewAuthenticationError(serviceName, "refresh_token",
			"token response missing access_token or refresh_token", nil)
	}
	return &out, nil
}

// AuthCodeURL builds the URL the user visits to grant access.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens. Both tokens must be
// present in the response.
func (m *Manager) Exchange(ctx context.Context, code string) (credentials.Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)

	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return credentials.Tokens{}, errors.NewAuthenticationError(serviceName, "authorization_code", "code exchange failed", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return credentials.Tokens{}, errors.NewAuthenticationError(serviceName, "authorization_code",
			"token response missing access_token or refresh_token", nil)
	}

	out := credentials.Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC().Truncate(time.Second)
		out.ExpiresAt = &exp
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, accountID string) (*credentials.Credential, error) {
	cred, err := m.store.Get(ctx, accountID)
	if errors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", credentials.ErrNotConnected, err)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}
