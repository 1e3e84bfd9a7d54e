package pricesync

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/pkg/catalog"
	"github.com/pricesync/pricesync/pkg/constants"
)

// Options controls one sync or preview run.
type Options struct {
	OnlyIncrease  bool    // Skip rows whose known current cost is already >= the feed cost
	Fuzzy         bool    // Resolve against the full catalog with fuzzy fallback
	Threshold     float64 // Minimum fuzzy similarity, clamped to [0, 1]
	MarkupPercent float64 // Selling price markup; <= 0 updates cost only
}

// Option configures run Options.
type Option func(*Options)

// Defaults returns the default run options.
func Defaults() *Options {
	return &Options{
		Threshold: constants.DefaultFuzzyThreshold,
	}
}

// Apply applies opts and normalizes the result.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}

	if math.IsNaN(o.Threshold) {
		o.Threshold = constants.DefaultFuzzyThreshold
	}
	o.Threshold = catalog.ClampThreshold(o.Threshold)

	if math.IsNaN(o.MarkupPercent) || math.IsInf(o.MarkupPercent, 0) || o.MarkupPercent < 0 {
		o.MarkupPercent = 0
	}
	return o
}

// WithOnlyIncrease enables price protection.
func WithOnlyIncrease(enabled bool) Option {
	return func(o *Options) {
		o.OnlyIncrease = enabled
	}
}

// WithFuzzy enables fuzzy matching at threshold.
func WithFuzzy(threshold float64) Option {
	return func(o *Options) {
		o.Fuzzy = true
		o.Threshold = threshold
	}
}

// WithMarkup sets the markup percentage applied to the selling price.
func WithMarkup(percent float64) Option {
	return func(o *Options) {
		o.MarkupPercent = percent
	}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCallDelay sets the pause after every remote call.
func WithCallDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.callDelay = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zerolog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) EngineOption {
	return func(e *Engine) {
		if next != nil {
			e.newRunID = next
		}
	}
}
