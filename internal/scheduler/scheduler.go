// Package scheduler implements the IntervalScheduler from spec.md §4.8: the single-threaded
// cooperative sweep over configured intervals and registered symbols described in §5's
// control-flow diagram. It composes the registry, router, fetcher, and rate limiter built
// elsewhere in this module; the shape of a cancellable, checkpointed unit of work carries its
// own run loop instead of delegating progress reporting to a queue.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/fetch"
	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/ratelimit"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/storage/router"
)

// WindowConstraint bounds how far back a fetch may reach for one interval (spec.md §4.3's
// provider-imposed windowing, e.g. minute data capped at ~7 days, hourly at ~729 days).
// A zero MaxHistory means unconstrained.
type WindowConstraint struct {
	MaxHistory time.Duration
}

// Scheduler runs sweeps across a fixed ordered list of intervals for every symbol the
// registry knows about, against one (market, source) binding.
type Scheduler struct {
	Intervals   []string
	Constraints map[string]WindowConstraint
	Binding     router.Binding

	Registry *registry.Registry
	Router   *router.Router
	Fetcher  fetch.BarFetcher
	Limiter  *ratelimit.Limiter
	Clock    clock.Clock
	Log      zerolog.Logger
}

// New constructs a Scheduler. A nil limiter defaults to a no-op limiter and a nil clock to
// the real wall clock.
func New(intervals []string, constraints map[string]WindowConstraint, binding router.Binding,
	reg *registry.Registry, r *router.Router, fetcher fetch.BarFetcher, limiter *ratelimit.Limiter,
	c clock.Clock, log zerolog.Logger) *Scheduler {
	if limiter == nil {
		limiter = ratelimit.NoOp()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		Intervals: intervals, Constraints: constraints, Binding: binding,
		Registry: reg, Router: r, Fetcher: fetcher, Limiter: limiter, Clock: c,
		Log: log.With().Str("component", "interval_scheduler").Logger(),
	}
}

// Run executes one sweep, per the algorithm in spec.md §4.8. start/end optionally override
// the default incremental window; either may be nil. Run always reloads the registry before
// sweeping and saves it on completion or cancellation.
func (s *Scheduler) Run(ctx context.Context, start, end *time.Time) error {
	if err := s.Registry.Load(); err != nil {
		return err
	}

	for _, interval := range s.Intervals {
		if cancelled(ctx) {
			break
		}
		for _, symbol := range s.Registry.Snapshot() {
			if cancelled(ctx) {
				break
			}
			s.processOne(ctx, symbol, interval, start, end)
		}
	}

	return s.Registry.Save()
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// processOne runs the body of the inner loop in spec.md §4.8's algorithm for a single
// (symbol, interval) pair. Per-symbol failures never abort the sweep (spec.md §7).
func (s *Scheduler) processOne(ctx context.Context, symbol, interval string, start, end *time.Time) {
	if !s.Registry.IsActiveForInterval(symbol, interval) {
		return
	}

	if err := s.Limiter.Acquire(ctx); err != nil {
		return // context cancelled; outer loop will observe it next iteration
	}

	override := s.overrideFor(symbol, interval)
	existing, err := s.Router.Read(s.Binding, symbol, interval, override)
	if err != nil {
		s.Log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("read existing frame failed")
		s.Registry.UpdateIntervalStatus(symbol, interval, registry.TransientError, time.Time{})
		return
	}

	window := s.computeWindow(existing, interval, start, end)

	frame, err := s.Fetcher.FetchBars(ctx, symbol, interval, window)
	if err != nil {
		var ferr *fetch.Error
		if errors.As(err, &ferr) {
			switch ferr.Kind {
			case fetch.Transient, fetch.RateLimited:
				s.Registry.UpdateIntervalStatus(symbol, interval, registry.TransientError, time.Time{})
			case fetch.WindowExceeded, fetch.Fatal:
				s.Log.Error().Err(err).Str("symbol", symbol).Str("interval", interval).
					Msg("config bug: window exceeded or fatal schema error, skipping")
			case fetch.NotFound:
				s.Registry.UpdateIntervalStatus(symbol, interval, registry.NotFoundOutcome, time.Time{})
			}
			return
		}
		s.Log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("unclassified fetch error")
		s.Registry.UpdateIntervalStatus(symbol, interval, registry.TransientError, time.Time{})
		return
	}

	if frame.Empty() {
		s.Registry.UpdateIntervalStatus(symbol, interval, registry.NotFoundOutcome, time.Time{})
		return
	}

	merged := model.BarFrame{Symbol: symbol, Interval: interval, Rows: model.MergeBars(existing.Rows, frame.Rows)}
	if err := s.Router.Save(s.Binding, symbol, interval, merged, override); err != nil {
		s.Log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("save merged frame failed")
		s.Registry.UpdateIntervalStatus(symbol, interval, registry.TransientError, time.Time{})
		return
	}
	s.Registry.UpdateIntervalStatus(symbol, interval, registry.Found, frame.LastTimestamp())
}

func (s *Scheduler) overrideFor(symbol, interval string) *router.IntervalOverride {
	binding, ok := s.Registry.Binding(symbol, interval)
	if !ok {
		return nil
	}
	return &router.IntervalOverride{Backend: router.Backend(binding.Backend)}
}

// computeWindow implements spec.md §4.8's window computation: default start is just after
// the existing data's last timestamp (or the provider's max-history horizon if there is no
// existing data), default end is now; both are clamped to the interval's provider
// constraint, and either may be overridden by the caller.
func (s *Scheduler) computeWindow(existing model.BarFrame, interval string, startOverride, endOverride *time.Time) fetch.Window {
	now := s.Clock.Now()

	windowEnd := now
	if endOverride != nil {
		windowEnd = *endOverride
	}

	var windowStart time.Time
	if startOverride != nil {
		windowStart = *startOverride
	} else if !existing.Empty() {
		windowStart = existing.LastTimestamp().Add(time.Nanosecond)
	} else if c, ok := s.Constraints[interval]; ok && c.MaxHistory > 0 {
		windowStart = now.Add(-c.MaxHistory)
	}

	if c, ok := s.Constraints[interval]; ok && c.MaxHistory > 0 {
		earliest := now.Add(-c.MaxHistory)
		if windowStart.Before(earliest) {
			windowStart = earliest
		}
	}

	return fetch.Window{Start: windowStart, End: windowEnd}
}
