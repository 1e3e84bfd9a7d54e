// Package pricesync runs a cost feed against a connected Jobber catalog:
// resolving each row to a catalog entry, applying price protection and
// markup, and issuing updates with a refresh-once-on-401 contract.
package pricesync

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/pkg/catalog"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/feed"
	"github.com/pricesync/pricesync/pkg/logging"
)

// User-facing messages for terminal run errors.
const (
	MessageNotConnected   = "Not connected; please connect to Jobber first."
	MessageSessionExpired = "Session expired; please reconnect to Jobber."
)

var (
	// ErrNotConnected means the account has no stored credential.
	ErrNotConnected = credentials.ErrNotConnected

	// ErrSessionExpired means a call was still unauthorized after one
	// refresh, or the refresh itself failed.
	ErrSessionExpired = stderrors.New("session expired")
)

// CatalogClient is the subset of the Jobber client the engine drives.
type CatalogClient interface {
	ProbeCodeCapability(ctx context.Context, token string) (bool, error)
	FetchAll(ctx context.Context, token string, withCode bool) ([]catalog.Entry, error)
	FindByExactMatch(ctx context.Context, token, identifier string, preferCode bool) (catalog.Match, error)
	UpdateCost(ctx context.Context, token, id string, cost float64) (bool, error)
	UpdateCostAndPrice(ctx context.Context, token, id string, cost, price float64) (bool, error)
}

// TokenSource provides access tokens for an account.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID string) (string, error)
	RefreshAndPersist(ctx context.Context, accountID string) (string, error)
}

// Engine executes sync and preview runs. Runs for different accounts may
// execute concurrently; each run is sequential in feed order.
type Engine struct {
	client    CatalogClient
	tokens    TokenSource
	callDelay time.Duration
	logger    *zerolog.Logger
	newRunID  func() string
}

// NewEngine creates an Engine.
func NewEngine(client CatalogClient, tokens TokenSource, opts ...EngineOption) *Engine {
	e := &Engine{
		client:    client,
		tokens:    tokens,
		callDelay: constants.RateLimitDelay,
		logger:    logging.Default(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunSync resolves every row and updates the matching catalog entries.
func (e *Engine) RunSync(ctx context.Context, accountID string, rows []feed.Row, opts ...Option) *SyncResult {
	o := Defaults().Apply(opts...)
	res := newSyncResult(e.newRunID(), accountID, o)
	ctx, log := e.runContext(ctx, accountID, res.RunID, "sync")

	r, err := e.begin(ctx, accountID, log)
	if err != nil {
		res.Error, res.Cause = message(err), err
		return res
	}
	res.CodeMatching = r.withCode

	resolve, err := r.resolver(ctx, o)
	if err != nil {
		res.Error, res.Cause = message(err), err
		return res
	}

	for _, row := range rows {
		m, err := resolve(ctx, row.Identifier)
		if err != nil {
			res.Error, res.Cause = message(err), err
			break
		}
		if m.Fuzzy {
			res.FuzzyMatched++
		}
		if !m.Found() {
			res.NotFound = append(res.NotFound, row.Identifier)
			log.Debug().Str("identifier", row.Identifier).Msg("not found")
			continue
		}

		if o.OnlyIncrease && m.CurrentCost != nil && row.Cost <= *m.CurrentCost {
			res.SkippedProtected++
			log.Debug().Str("identifier", row.Identifier).
				Float64("cost", row.Cost).Float64("current_cost", *m.CurrentCost).
				Msg("skipped by price protection")
			continue
		}

		ok, err := r.update(ctx, m.EntryID, row.Cost, o.MarkupPercent)
		if err != nil {
			res.Error, res.Cause = message(err), err
			break
		}
		if !ok {
			res.Failed = append(res.Failed, row.Identifier)
			continue
		}
		res.Updated++
		log.Debug().Str("identifier", row.Identifier).Str("entry_id", m.EntryID).
			Float64("cost", row.Cost).Bool("fuzzy", m.Fuzzy).Msg("updated")
	}

	ev := log.Info()
	if res.HasError() {
		ev = log.Warn().AnErr("cause", res.Cause)
	}
	ev.Int("updated", res.Updated).
		Int("not_found", len(res.NotFound)).
		Int("failed", len(res.Failed)).
		Int("skipped_protected", res.SkippedProtected).
		Int("fuzzy_matched", res.FuzzyMatched).
		Msg("sync finished")
	return res
}

// RunPreview resolves every row and classifies it against the current cost
// without issuing any mutation. Unknown current cost counts as zero.
func (e *Engine) RunPreview(ctx context.Context, accountID string, rows []feed.Row, opts ...Option) *PreviewResult {
	o := Defaults().Apply(opts...)
	res := newPreviewResult(e.newRunID(), accountID)
	ctx, log := e.runContext(ctx, accountID, res.RunID, "preview")

	r, err := e.begin(ctx, accountID, log)
	if err != nil {
		res.Error, res.Cause = message(err), err
		return res
	}
	res.CodeMatching = r.withCode

	resolve, err := r.resolver(ctx, o)
	if err != nil {
		res.Error, res.Cause = message(err), err
		return res
	}

	for _, row := range rows {
		m, err := resolve(ctx, row.Identifier)
		if err != nil {
			res.Error, res.Cause = message(err), err
			break
		}
		if m.Fuzzy {
			res.FuzzyMatched++
		}
		if !m.Found() {
			res.NotFound = append(res.NotFound, row.Identifier)
			continue
		}

		current := m.EffectiveCost()
		item := PreviewItem{
			Identifier:  row.Identifier,
			FeedCost:    row.Cost,
			CurrentCost: current,
			Description: row.Description,
			MatchedName: m.MatchedName,
			Fuzzy:       m.Fuzzy,
		}
		switch {
		case row.Cost > current:
			res.Increases++
			res.IncreasesDetail = append(res.IncreasesDetail, item)
		case row.Cost < current:
			res.Decreases++
			res.DecreasesDetail = append(res.DecreasesDetail, item)
		default:
			res.Unchanged++
			res.UnchangedDetail = append(res.UnchangedDetail, item)
		}
	}

	log.Info().Int("increases", res.Increases).
		Int("decreases", res.Decreases).
		Int("unchanged", res.Unchanged).
		Int("not_found", len(res.NotFound)).
		Msg("preview finished")
	return res
}

// MarkupPrice returns cost marked up by percent, rounded to 2 decimals.
func MarkupPrice(cost, percent float64) float64 {
	v := cost * (1 + percent/100)
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}

func (e *Engine) runContext(ctx context.Context, accountID, runID, op string) (context.Context, *zerolog.Logger) {
	ctx = logging.WithLogger(ctx, e.logger)
	if id := logging.RequestID(ctx); id != "" {
		ctx = logging.WithField(ctx, "request_id", id)
	}
	ctx = logging.WithAccount(ctx, accountID)
	ctx = logging.WithRun(ctx, runID)
	ctx = logging.WithOperation(ctx, op)
	return ctx, logging.FromContext(ctx)
}

// run holds the mutable per-run state: the current token and capability.
type run struct {
	e         *Engine
	accountID string
	token     string
	withCode  bool
	log       *zerolog.Logger
}

// begin obtains a token and probes code capability.
func (e *Engine) begin(ctx context.Context, accountID string, log *zerolog.Logger) (*run, error) {
	token, err := e.tokens.GetValidToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r := &run{e: e, accountID: accountID, token: token, log: log}
	err = r.withReauth(ctx, "probe", func(token string) error {
		var err error
		r.withCode, err = e.client.ProbeCodeCapability(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Bool("code_matching", r.withCode).Msg("catalog capability probed")
	return r, nil
}

type resolveFunc func(ctx context.Context, identifier string) (catalog.Match, error)

// resolver returns the per-row resolution strategy. Fuzzy runs scan the
// catalog once up front; exact runs query per row.
func (r *run) resolver(ctx context.Context, o *Options) (resolveFunc, error) {
	if !o.Fuzzy {
		return func(ctx context.Context, identifier string) (catalog.Match, error) {
			var m catalog.Match
			err := r.withReauth(ctx, "find", func(token string) error {
				var err error
				m, err = r.e.client.FindByExactMatch(ctx, token, identifier, r.withCode)
				return err
			})
			return m, err
		}, nil
	}

	var entries []catalog.Entry
	err := r.withReauth(ctx, "fetch_all", func(token string) error {
		var err error
		entries, err = r.e.client.FetchAll(ctx, token, r.withCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug().Int("entries", len(entries)).Msg("catalog loaded")

	idx := catalog.NewIndex(entries)
	ropts := catalog.Options{PreferCode: r.withCode, Fuzzy: true, Threshold: o.Threshold}
	return func(_ context.Context, identifier string) (catalog.Match, error) {
		return idx.Resolve(identifier, ropts), nil
	}, nil
}

func (r *run) update(ctx context.Context, id string, cost, markup float64) (bool, error) {
	var ok bool
	err := r.withReauth(ctx, "update", func(token string) error {
		var err error
		if markup > 0 {
			ok, err = r.e.client.UpdateCostAndPrice(ctx, token, id, cost, MarkupPrice(cost, markup))
		} else {
			ok, err = r.e.client.UpdateCost(ctx, token, id, cost)
		}
		return err
	})
	return ok, err
}

// withReauth runs call with the current token. On unauthorized it refreshes
// once and retries; a failed refresh or a second unauthorized is terminal.
// The fixed inter-call delay follows every call.
func (r *run) withReauth(ctx context.Context, op string, call func(token string) error) error {
	err := call(r.token)
	if errors.IsUnauthorized(err) {
		r.log.Info().Str("call", op).Msg("access token rejected, refreshing")

		token, rerr := r.e.tokens.RefreshAndPersist(ctx, r.accountID)
		if rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("%w: refresh failed: %w", ErrSessionExpired, rerr)
		}
		r.token = token

		err = call(r.token)
		if errors.IsUnauthorized(err) {
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
	}
	if err != nil {
		return err
	}
	return pause(ctx, r.e.callDelay)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// message maps a terminal error to its user-facing text.
func message(err error) string {
	switch {
	case stderrors.Is(err, ErrNotConnected):
		return MessageNotConnected
	case stderrors.Is(err, ErrSessionExpired):
		return MessageSessionExpired
	}
	return err.Error()
}
