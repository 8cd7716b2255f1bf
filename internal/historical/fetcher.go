// Package historical assembles a complete OHLCV series from an endpoint that
// caps how many days a single call may span.
package historical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/metrics"
	"autokite/internal/retry"
	"autokite/internal/store"
	"autokite/internal/types"
)

// ErrWindowStalled means window planning failed to advance towards today.
var ErrWindowStalled = errors.New("historical window did not advance")

type Fetcher struct {
	source   interfaces.HistoricalSource
	policy   retry.Policy
	limiter  *rate.Limiter
	maxDays  int
	interval string
	now      func() time.Time
}

type Option func(*Fetcher)

// WithClock fixes what "today" means, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithPolicy overrides the per-window retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

func NewFetcher(source interfaces.HistoricalSource, cfg *store.Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:   source,
		policy:   retry.FromConfig(cfg.Retry.Historical),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Historical.RatePerSecond), cfg.Historical.Burst),
		maxDays:  cfg.Historical.MaxWindowDays,
		interval: cfg.Historical.Interval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch returns every bar from start through today, ascending and without
// duplicates. Windows are fetched strictly one after another. If any window
// still fails after retries, nothing is returned.
func (f *Fetcher) Fetch(ctx context.Context, token uint32, start time.Time, interval string) ([]types.Bar, error) {
	if interval == "" {
		interval = f.interval
	}

	windows, err := Plan(start, f.now(), f.maxDays)
	if err != nil {
		return nil, err
	}

	op := logger.StartOperation(ctx, "historical.Fetch",
		"instrument_token", token,
		"interval", interval,
		"windows", len(windows),
	)
	ctx = op.Context()

	var (
		bars []types.Bar
		last time.Time
	)
	for i, w := range windows {
		got, err := f.fetchWindow(ctx, token, interval, w)
		metrics.RecordHistoricalWindow(len(got), err)
		if err != nil {
			op.EndWithError(err, "window", w.String(), "window_index", i)
			return nil, fmt.Errorf("failed to fetch window %s for %d: %w", w, token, err)
		}

		accepted := 0
		for _, b := range got {
			if !last.IsZero() && !b.Time.After(last) {
				continue
			}
			bars = append(bars, b)
			last = b.Time
			accepted++
		}
		logger.Debug(ctx, "Historical window fetched",
			"instrument_token", token,
			"window", w.String(),
			"received", len(got),
			"accepted", accepted,
		)
	}

	op.End("bars", len(bars))
	return bars, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, token uint32, interval string, w Window) ([]types.Bar, error) {
	from := w.From
	to := w.To.Add(24*time.Hour - time.Second)

	return retry.Do(ctx, f.policy, "historical.window", func(ctx context.Context) ([]types.Bar, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return f.source.HistoricalBars(ctx, token, interval, from, to)
	})
}
