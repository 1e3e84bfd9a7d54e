package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/handlers"
	"github.com/pricesync/pricesync/internal/server/session"
	"github.com/pricesync/pricesync/pkg/logging"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	config   Config
	handlers *handlers.Handlers
	events   *events.Broker
	logger   *zerolog.Logger
}

// New creates a server. deps.Sessions and deps.MaxUploadSize are derived
// from cfg when unset; an event broker is created when deps.Events is nil.
func New(cfg Config, deps handlers.Deps) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewSigner(cfg.SecretKey, cfg.SecureCookies())
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = cfg.MaxUploadSize
	}
	if deps.Events == nil {
		deps.Events = events.NewBroker(deps.Logger)
	}

	return &Server{
		config:   cfg,
		handlers: handlers.New(deps),
		events:   deps.Events,
		logger:   deps.Logger,
	}
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Run listens on the configured address until ctx is canceled, then shuts
// down gracefully, letting in-flight runs finish within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The event broker runs alongside;
// stopping it on shutdown ends open event streams.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.events.Run(ctx)

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
