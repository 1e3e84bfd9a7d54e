package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/internal/server"
	"github.com/pricesync/pricesync/internal/server/handlers"
	"github.com/pricesync/pricesync/internal/watch"
)

// NewServeCommand creates the serve command.
func (a *App) NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "core",
		Short:   "Run the web service",
		Long: `Serve starts the HTTP service: the Jobber connect flow, feed upload for
sync and preview, and the Jobber webhook receiver.

JOBBER_CLIENT_ID and JOBBER_CLIENT_SECRET must be set, and BASE_URL must
match the redirect URL registered with the Jobber app
(BASE_URL + /oauth/callback).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.config.RequireOAuth(); err != nil {
				return err
			}
			if a.config.SecretKey == DefaultSecretKey {
				a.logger.Warn().Msg("SECRET_KEY is the development default; session cookies can be forged")
			}

			store, err := a.Store()
			if err != nil {
				return err
			}
			tokens, err := a.Tokens()
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			cfg := server.DefaultConfig()
			cfg.Addr = addr
			cfg.BaseURL = a.config.BaseURL
			cfg.SecretKey = a.config.SecretKey

			srv := server.New(cfg, handlers.Deps{
				Store:         store,
				Auth:          tokens,
				Jobber:        a.Jobber(),
				Engine:        engine,
				WebhookSecret: a.config.ClientSecret,
				Version:       a.version,
				Logger:        a.logger,
			})

			a.logger.Info().
				Str("addr", cfg.Addr).
				Str("base_url", cfg.BaseURL).
				Str("redirect_url", a.config.RedirectURL()).
				Msg("Starting pricesync server")
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", server.DefaultConfig().Addr, "listen address")
	return cmd
}

// NewWatchCommand creates the watch command.
func (a *App) NewWatchCommand() *cobra.Command {
	var flags runFlags
	var dir string

	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: "core",
		Short:   "Sync every feed dropped into a directory",
		Long: `Watch monitors a directory and syncs each CSV feed that is created or
rewritten there, once the file has stopped changing. A file is not synced
again until its content changes. Stop with Ctrl-C.`,
		Example: `  pricesync watch --dir ./incoming --only-increase`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.Store()
			if err != nil {
				return err
			}
			accountID, err := resolveAccount(ctx, store, flags.account)
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			w := watch.New(dir, accountID, engine, watch.Options{
				RunOptions:  flags.options(),
				FeedOptions: flags.feedOptions(),
				Logger:      a.logger,
				OnResult: func(path string, res *pricesync.SyncResult, err error) {
					if err != nil {
						fmt.Fprintf(a.out, "%s: %v\n", path, err)
						return
					}
					fmt.Fprintf(a.out, "%s: %s\n", path, res.Summary())
				},
			})
			return w.Run(ctx)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to watch")
	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.out, "pricesync version %s\n", a.version)
			fmt.Fprintf(a.out, "commit: %s\n", a.commit)
			fmt.Fprintf(a.out, "built: %s\n", a.date)
			fmt.Fprintf(a.out, "built by: %s\n", a.builtBy)
			fmt.Fprintf(a.out, "go version: %s\n", runtime.Version())
			fmt.Fprintf(a.out, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
