package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricesync/pricesync/pkg/errors"
)

// NewAccountsCommand creates the accounts command.
func (a *App) NewAccountsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		GroupID: "management",
		Short:   "Manage connected Jobber accounts",
	}
	cmd.AddCommand(a.newAccountsListCommand(), a.newAccountsRemoveCommand())
	return cmd
}

func (a *App) newAccountsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List connected accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.Store()
			if err != nil {
				return err
			}
			creds, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer().Accounts(creds, a.now())
		},
	}
}

func (a *App) newAccountsRemoveCommand() *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:     "remove <account-id>",
		Aliases: []string{"rm"},
		Short:   "Forget a connected account",
		Long: `Remove deletes the stored tokens of an account. With --revoke the app is
also disconnected on the Jobber side first; a failure there is logged and
the local credential is removed anyway.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			accountID := args[0]

			store, err := a.Store()
			if err != nil {
				return err
			}
			if _, err := store.Get(ctx, accountID); err != nil {
				if errors.IsNotFound(err) {
					return errors.NewNotFoundError("account", accountID)
				}
				return err
			}

			if revoke {
				a.revoke(cmd, accountID)
			}

			if err := store.Delete(ctx, accountID); err != nil {
				return err
			}
			a.logger.Info().Str("account_id", accountID).Msg("account removed")
			_, err = fmt.Fprintf(a.out, "Removed account %s\n", accountID)
			return err
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "also disconnect the app in Jobber")
	return cmd
}

// revoke disconnects the app remotely. Failures are only logged.
func (a *App) revoke(cmd *cobra.Command, accountID string) {
	ctx := cmd.Context()
	tokens, err := a.Tokens()
	if err == nil {
		var token string
		if token, err = tokens.GetValidToken(ctx, accountID); err == nil {
			err = a.Jobber().Disconnect(ctx, token)
		}
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("account_id", accountID).Msg("remote disconnect failed")
	}
}

// TokenStatus describes the stored token of an account. Tokens themselves
// are never printed.
type TokenStatus struct {
	AccountID   string     `json:"account_id" yaml:"account_id"`
	AccountName string     `json:"account_name" yaml:"account_name"`
	Valid       bool       `json:"valid" yaml:"valid"`
	Refreshed   bool       `json:"refreshed" yaml:"refreshed"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewTokenCommand creates the token command.
func (a *App) NewTokenCommand() *cobra.Command {
	var accountID string
	var refresh bool

	cmd := &cobra.Command{
		Use:     "token",
		GroupID: "management",
		Short:   "Check or refresh the access token of an account",
		Long: `Token obtains a valid access token for the account, refreshing it first
when it is close to expiry, and prints its status. --refresh forces a
refresh regardless of expiry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.Store()
			if err != nil {
				return err
			}
			id, err := resolveAccount(ctx, store, accountID)
			if err != nil {
				return err
			}
			before, err := store.Get(ctx, id)
			if err != nil {
				if errors.IsNotFound(err) {
					return errors.NewNotFoundError("account", id)
				}
				return err
			}

			tokens, err := a.Tokens()
			if err != nil {
				return err
			}
			if refresh {
				_, err = tokens.RefreshAndPersist(ctx, id)
			} else {
				_, err = tokens.GetValidToken(ctx, id)
			}

			status := TokenStatus{AccountID: id, AccountName: before.AccountName, Valid: err == nil}
			if err != nil {
				status.Error = err.Error()
			}
			if after, gerr := store.Get(ctx, id); gerr == nil {
				status.ExpiresAt = after.ExpiresAt
				status.Refreshed = after.AccessToken != before.AccessToken
			}

			if perr := a.printer().Any(status); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Jobber account id (default: the only connected account)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a token refresh")
	return cmd
}
