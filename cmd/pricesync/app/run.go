package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/feed"
)

// runFlags are the options shared by sync, preview and watch.
type runFlags struct {
	account      string
	onlyIncrease bool
	fuzzy        bool
	threshold    float64
	markup       float64

	idColumn   string
	costColumn string
	descColumn string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.account, "account", "a", "", "Jobber account id (default: the only connected account)")
	flags.BoolVar(&f.onlyIncrease, "only-increase", false, "skip items whose current cost is already at or above the feed cost")
	flags.BoolVar(&f.fuzzy, "fuzzy", false, "fall back to fuzzy name matching")
	flags.Float64Var(&f.threshold, "threshold", constants.DefaultFuzzyThreshold, "minimum fuzzy similarity (0-1)")
	flags.Float64Var(&f.markup, "markup", 0, "set the selling price to cost plus this percentage")
	flags.StringVar(&f.idColumn, "id-column", feed.DefaultIdentifierColumn, "feed column holding the part number")
	flags.StringVar(&f.costColumn, "cost-column", feed.DefaultCostColumn, "feed column holding the trade cost")
	flags.StringVar(&f.descColumn, "description-column", feed.DefaultDescriptionColumn, "feed column holding the description")
}

func (f *runFlags) options() []pricesync.Option {
	opts := []pricesync.Option{
		pricesync.WithOnlyIncrease(f.onlyIncrease),
		pricesync.WithMarkup(f.markup),
	}
	if f.fuzzy {
		opts = append(opts, pricesync.WithFuzzy(f.threshold))
	}
	return opts
}

func (f *runFlags) feedOptions() []feed.Option {
	return []feed.Option{
		feed.WithIdentifierColumn(f.idColumn),
		feed.WithCostColumn(f.costColumn),
		feed.WithDescriptionColumn(f.descColumn),
	}
}

// NewSyncCommand creates the sync command.
func (a *App) NewSyncCommand() *cobra.Command {
	var flags runFlags
	var file string

	cmd := &cobra.Command{
		Use:     "sync [file]",
		GroupID: "core",
		Short:   "Push feed costs into the Jobber catalog",
		Long: `Sync reads a supplier feed and updates the cost of every matching
Jobber catalog item. With --markup the selling price is updated too.`,
		Example: `  pricesync sync prices.csv
  pricesync sync --file prices.csv --only-increase --markup 25
  pricesync sync prices.csv --fuzzy --threshold 0.85 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, accountID, err := a.prepareRun(cmd.Context(), &flags, file, args)
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			res := engine.RunSync(cmd.Context(), accountID, rows, flags.options()...)
			if err := a.printer().Sync(res); err != nil {
				return err
			}
			if res.HasError() {
				return fmt.Errorf("sync stopped: %s", res.Error)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "feed file (CSV)")
	return cmd
}

// NewPreviewCommand creates the preview command.
func (a *App) NewPreviewCommand() *cobra.Command {
	var flags runFlags
	var file string

	cmd := &cobra.Command{
		Use:     "preview [file]",
		GroupID: "core",
		Short:   "Show what a sync would change without changing anything",
		Long: `Preview matches a supplier feed against the Jobber catalog and
classifies every item as an increase, a decrease or unchanged.
No catalog item is modified. Use -o wide to list unchanged items.`,
		Example: `  pricesync preview prices.csv
  pricesync preview --file prices.csv --fuzzy -o wide`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, accountID, err := a.prepareRun(cmd.Context(), &flags, file, args)
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			res := engine.RunPreview(cmd.Context(), accountID, rows, flags.options()...)
			if err := a.printer().Preview(res); err != nil {
				return err
			}
			if res.HasError() {
				return fmt.Errorf("preview stopped: %s", res.Error)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "feed file (CSV)")
	return cmd
}

// prepareRun parses the feed and resolves the target account.
func (a *App) prepareRun(ctx context.Context, flags *runFlags, file string, args []string) ([]feed.Row, string, error) {
	if file == "" && len(args) > 0 {
		file = args[0]
	}
	if file == "" {
		return nil, "", errors.NewValidationError("file", nil, "a feed file is required (--file or argument)")
	}

	rows, err := feed.ParseFile(file, flags.feedOptions()...)
	if err != nil {
		return nil, "", err
	}
	a.logger.Debug().Str("file", file).Int("rows", len(rows)).Msg("feed parsed")

	store, err := a.Store()
	if err != nil {
		return nil, "", err
	}
	accountID, err := resolveAccount(ctx, store, flags.account)
	if err != nil {
		return nil, "", err
	}
	return rows, accountID, nil
}

// resolveAccount returns explicit, or the only connected account.
func resolveAccount(ctx context.Context, store credentials.Store, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	creds, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	switch len(creds) {
	case 0:
		return "", errors.NewValidationError("account", nil,
			"no Jobber account is connected; run 'pricesync serve' and connect first")
	case 1:
		return creds[0].AccountID, nil
	default:
		return "", errors.NewValidationError("account", nil,
			fmt.Sprintf("%d accounts are connected; choose one with --account", len(creds)))
	}
}
