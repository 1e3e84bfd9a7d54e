// Package app provides the application context and dependency management
// for the pricesync CLI: configuration, logging, and the lazily opened
// credential store, token manager, Jobber client and sync engine.
package app

import (
	"context"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/jobber"
	"github.com/pricesync/pricesync/internal/oauth"
	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/pkg/errors"
)

// App represents the pricesync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger
	fixed  bool // logger supplied by WithLogger; flags do not replace it
	out    io.Writer
	now    func() time.Time

	// Lazily built services
	mu     sync.Mutex
	store  credentials.Store
	tokens *oauth.Manager
	client *jobber.Client
	engine *pricesync.Engine
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		out:     os.Stdout,
		now:     time.Now,
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.config == nil {
		config, err := LoadConfig("")
		if err != nil {
			return nil, errors.WrapResource("load", "config", "", err)
		}
		app.config = config
	}
	if app.logger == nil {
		logger := NewLogger(app.config)
		app.logger = &logger
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Store returns the credential store, opening DATABASE_URL on first use.
func (a *App) Store() (credentials.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked()
}

func (a *App) storeLocked() (credentials.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := credentials.Open(a.config.DatabaseURL)
	if err != nil {
		return nil, errors.WrapResource("open", "credential store", "", err)
	}
	a.logger.Debug().Str("database", redactDSN(a.config.DatabaseURL)).Msg("credential store opened")
	a.store = store
	return store, nil
}

// Tokens returns the OAuth token manager.
func (a *App) Tokens() (*oauth.Manager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokensLocked()
}

func (a *App) tokensLocked() (*oauth.Manager, error) {
	if a.tokens != nil {
		return a.tokens, nil
	}
	store, err := a.storeLocked()
	if err != nil {
		return nil, err
	}
	a.tokens = oauth.NewManager(store, oauth.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		TokenURL:     a.config.TokenURL,
		AuthorizeURL: a.config.AuthorizeURL,
		RedirectURL:  a.config.RedirectURL(),
		Timeout:      a.config.HTTPTimeout,
	}, oauth.WithLogger(a.logger), oauth.WithClock(a.now))
	return a.tokens, nil
}

// Jobber returns the Jobber GraphQL client.
func (a *App) Jobber() *jobber.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.jobberLocked()
}

func (a *App) jobberLocked() *jobber.Client {
	if a.client == nil {
		a.client = jobber.NewClient(
			jobber.WithEndpoint(a.config.GraphQLURL),
			jobber.WithVersion(a.config.GraphQLVersion),
			jobber.WithTimeout(a.config.HTTPTimeout),
			jobber.WithPageDelay(a.config.RateLimitDelay),
			jobber.WithLogger(a.logger),
		)
	}
	return a.client
}

// Engine returns the sync engine.
func (a *App) Engine() (*pricesync.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}
	tokens, err := a.tokensLocked()
	if err != nil {
		return nil, err
	}
	a.engine = pricesync.NewEngine(a.jobberLocked(), tokens,
		pricesync.WithCallDelay(a.config.RateLimitDelay),
		pricesync.WithLogger(a.logger))
	return a.engine, nil
}

// Shutdown releases the credential store.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		a.fixed = logger != nil
		return nil
	}
}

// WithStore sets the credential store (useful for testing).
func WithStore(store credentials.Store) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) Option {
	return func(a *App) error {
		a.out = w
		return nil
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(a *App) error {
		a.now = now
		return nil
	}
}

// redactDSN hides the password of a database URL.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
