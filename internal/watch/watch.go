// Package watch syncs cost feeds dropped into a directory. Every created or
// rewritten *.csv file is parsed and synced once the directory has been
// quiet for the debounce window. A file is not synced again until its size
// or modification time changes.
//
// Typical usage:
//
//	w := watch.New(dir, accountID, engine, watch.Options{Debounce: time.Second})
//	err := w.Run(ctx)
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/feed"
	"github.com/pricesync/pricesync/pkg/logging"
)

// Syncer runs a sync for one account.
type Syncer interface {
	RunSync(ctx context.Context, accountID string, rows []feed.Row, opts ...pricesync.Option) *pricesync.SyncResult
}

// Options tunes the watcher.
type Options struct {
	// Debounce is the quiet period after the last change before pending
	// files are processed. Default: constants.WatchDebounce.
	Debounce time.Duration
	// RunOptions are passed to every sync.
	RunOptions []pricesync.Option
	// FeedOptions select the feed columns.
	FeedOptions []feed.Option
	// OnResult is called after each processed file. Result is nil when the
	// file could not be parsed.
	OnResult func(path string, result *pricesync.SyncResult, err error)
	// Logger overrides the default logger.
	Logger *zerolog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = constants.WatchDebounce
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Events    int64 `json:"events"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

type stamp struct {
	size    int64
	modTime time.Time
}

func (s stamp) same(o stamp) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

// Watcher syncs feed files from a directory for one account.
type Watcher struct {
	dir       string
	accountID string
	syncer    Syncer
	opts      Options

	// seen is only touched by the Run goroutine.
	seen map[string]stamp

	events    atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
}

// New creates a Watcher. Call Run to start it.
func New(dir, accountID string, syncer Syncer, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{
		dir:       dir,
		accountID: accountID,
		syncer:    syncer,
		opts:      opts,
		seen:      make(map[string]stamp),
	}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Events:    w.events.Load(),
		Processed: w.processed.Load(),
		Skipped:   w.skipped.Load(),
		Errors:    w.errors.Load(),
	}
}

// Run blocks until ctx is canceled. Files present when Run starts are not
// processed.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return errors.WrapIO("stat", w.dir, err)
	}
	if !info.IsDir() {
		return errors.NewValidationError("dir", w.dir, "not a directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapIO("watch", w.dir, err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return errors.WrapIO("watch", w.dir, err)
	}

	log := w.opts.Logger.With().Str("dir", w.dir).Str("account_id", w.accountID).Logger()
	log.Info().Dur("debounce", w.opts.Debounce).Msg("watching for feed files")

	pending := make(map[string]struct{})
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch stopped")
			return nil

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			log.Warn().Err(err).Msg("watch error")

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isFeed(ev) {
				continue
			}
			w.events.Add(1)
			pending[ev.Name] = struct{}{}

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			timerCh = timer.C
			log.Debug().Str("file", ev.Name).Msg("feed changed, debouncing")

		case <-timerCh:
			timerCh = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			for _, p := range paths {
				if ctx.Err() != nil {
					return nil
				}
				w.process(ctx, &log, p)
			}
		}
	}
}

func isFeed(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return strings.EqualFold(filepath.Ext(ev.Name), ".csv")
}

// process syncs one file unless it is unchanged since it was last handled.
func (w *Watcher) process(ctx context.Context, log *zerolog.Logger, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Removed or renamed before the debounce fired.
		log.Debug().Err(err).Str("file", path).Msg("feed vanished")
		return
	}
	st := stamp{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := w.seen[path]; ok && prev.same(st) {
		w.skipped.Add(1)
		return
	}
	w.seen[path] = st

	rows, err := feed.ParseFile(path, w.opts.FeedOptions...)
	if err != nil {
		w.errors.Add(1)
		log.Warn().Err(err).Str("file", path).Msg("feed rejected")
		w.report(path, nil, err)
		return
	}

	res := w.syncer.RunSync(ctx, w.accountID, rows, w.opts.RunOptions...)
	w.processed.Add(1)

	event := log.Info()
	if res.HasError() {
		w.errors.Add(1)
		event = log.Warn()
	}
	event.Str("file", path).Str("run_id", res.RunID).Msg(res.Summary())
	w.report(path, res, nil)
}

func (w *Watcher) report(path string, res *pricesync.SyncResult, err error) {
	if w.opts.OnResult != nil {
		w.opts.OnResult(path, res, err)
	}
}
