// Package collector orchestrates one collection run: load the persisted
// series, fetch from the provider, merge the genuinely new points and
// persist the sorted result. The run is strictly sequential and fail-closed:
// any fetch or write failure aborts with the series file untouched.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taometrics/pricehist/internal/models"
	"github.com/taometrics/pricehist/internal/series"
)

// Mode selects how much history a run requests from the provider.
type Mode string

const (
	// ModeIncremental fetches only the window since the last stored point.
	ModeIncremental Mode = "incremental"

	// ModeFullRefresh re-fetches the entire available history.
	ModeFullRefresh Mode = "full-refresh"
)

// Fetcher is the provider boundary the runner depends on. Implemented by
// coingecko.Client; tests substitute a mock.
type Fetcher interface {
	FetchFullHistory(ctx context.Context, asset, vs string) ([]models.RawPoint, error)
	FetchRange(ctx context.Context, asset, vs string, from, to int64) ([]models.RawPoint, error)
}

// Store is the persistence boundary: tolerant load, atomic overwrite.
type Store interface {
	Load(ctx context.Context) ([]models.PricePoint, error)
	Write(ctx context.Context, points []models.PricePoint) error
}

// Config carries the run parameters the pipeline needs. Everything the
// original kept in module-level globals (asset, currency, fallback date)
// arrives here explicitly so tests can run against alternate assets.
type Config struct {
	Asset         string
	VsCurrency    string
	FallbackStart time.Time
}

// Summary reports the outcome of a run.
type Summary struct {
	Mode    Mode
	Fetched int   // raw samples delivered by the provider
	Added   int   // genuinely new points after the merge
	Total   int   // series length after the run
	Written bool  // whether the series file was overwritten
	From    int64 // fetch window start (incremental mode only)
	To      int64 // fetch window end (incremental mode only)
}

// Runner executes the Load → Fetch → Merge → Persist pipeline.
type Runner struct {
	config  Config
	store   Store
	fetcher Fetcher
	logger  *slog.Logger

	// Now supplies the wall clock for window calculation; overridable in
	// tests.
	Now func() time.Time
}

// NewRunner wires a runner from its collaborators.
func NewRunner(cfg Config, store Store, fetcher Fetcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:  cfg,
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		Now:     time.Now,
	}
}

// Run performs one collection run in the given mode. On any fetch or
// storage-write failure the error is returned with the series file in its
// pre-run state. A nil error with Summary.Written == false means the run
// completed but had nothing to persist.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Summary, error) {
	existing, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	idx := series.Index(existing)
	summary := &Summary{Mode: mode, Total: len(existing)}

	var raw []models.RawPoint
	switch mode {
	case ModeFullRefresh:
		r.logger.Info("fetching full price history",
			"asset", r.config.Asset,
			"vs_currency", r.config.VsCurrency)
		raw, err = r.fetcher.FetchFullHistory(ctx, r.config.Asset, r.config.VsCurrency)
	case ModeIncremental:
		from, to := series.FetchWindow(series.LastTimestamp(existing), r.config.FallbackStart, r.Now().UTC())
		summary.From, summary.To = from, to
		r.logger.Info("fetching incremental price history",
			"asset", r.config.Asset,
			"vs_currency", r.config.VsCurrency,
			"from", from,
			"to", to)
		raw, err = r.fetcher.FetchRange(ctx, r.config.Asset, r.config.VsCurrency, from, to)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	summary.Fetched = len(raw)
	if len(raw) == 0 {
		r.logger.Info("no data returned by provider", "asset", r.config.Asset)
		return summary, nil
	}

	added := series.MergeNew(idx, raw)
	summary.Added = len(added)
	if len(added) == 0 {
		r.logger.Info("no new data points, series already current",
			"asset", r.config.Asset,
			"fetched", len(raw))
		return summary, nil
	}

	combined := series.Combine(existing, added)
	if err := r.store.Write(ctx, combined); err != nil {
		return nil, fmt.Errorf("failed to persist series: %w", err)
	}

	summary.Total = len(combined)
	summary.Written = true
	r.logger.Info("series updated",
		"asset", r.config.Asset,
		"fetched", summary.Fetched,
		"added", summary.Added,
		"total", summary.Total)

	return summary, nil
}
