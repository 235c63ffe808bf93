package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/fetch"
	"github.com/aristath/tickerfeed/internal/registry"
)

// Job is the contract a maintenance task satisfies to be cadence-scheduled by DaemonLoop:
// a bare Name()/Run() pair, with no progress-reporter plumbing.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Cadence is the `--ticker-maintenance` setting from spec.md §6's CLI surface.
type Cadence string

const (
	CadenceNever   Cadence = "never"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// cronExpr maps a cadence onto a fixed cron expression, letting robfig/cron's Schedule
// compute "next due" instead of hand-rolled day arithmetic (SPEC_FULL.md §4.10).
func cronExpr(c Cadence) (string, bool) {
	switch c {
	case CadenceDaily:
		return "0 2 * * *", true // 02:00 daily
	case CadenceWeekly:
		return "0 3 * * 0", true // 03:00 Sunday
	case CadenceMonthly:
		return "0 4 1 * *", true // 04:00 on the 1st
	default:
		return "", false
	}
}

// CadenceSchedule resolves a configured cadence into a cron.Schedule used to decide whether
// maintenance is due. A "never" cadence (or any unrecognized value) reports not-scheduled.
type CadenceSchedule struct {
	schedule cron.Schedule
}

// NewCadenceSchedule parses c into a schedule. ok is false for CadenceNever.
func NewCadenceSchedule(c Cadence) (CadenceSchedule, bool, error) {
	expr, ok := cronExpr(c)
	if !ok {
		return CadenceSchedule{}, false, nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return CadenceSchedule{}, false, fmt.Errorf("parse cadence cron expression %q: %w", expr, err)
	}
	return CadenceSchedule{schedule: sched}, true, nil
}

// Due reports whether a firing time falls in (lastRun, now] — i.e. maintenance has not yet
// run since the schedule last came due.
func (s CadenceSchedule) Due(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return !s.schedule.Next(lastRun).After(now)
}

// ListProvider supplies the current universe of symbols for refresh_current_list
// (spec.md §4.7). The remote source that backs it is a non-goal collaborator, same as
// fetch.BarFetcher/TradeFetcher.
type ListProvider interface {
	CurrentSymbols(ctx context.Context) ([]string, error)
}

// ListRefreshJob implements the `update-tickers` one-shot command and the daemon's
// `--ticker-maintenance` cadence: union-merges the provider's current symbol list into the
// registry (spec.md §4.7 RefreshCurrentList).
type ListRefreshJob struct {
	Registry *registry.Registry
	Provider ListProvider
	Log      zerolog.Logger
}

func (j *ListRefreshJob) Name() string { return "list_refresh" }

func (j *ListRefreshJob) Run(ctx context.Context) error {
	symbols, err := j.Provider.CurrentSymbols(ctx)
	if err != nil {
		return fmt.Errorf("fetch current symbol list: %w", err)
	}
	j.Registry.RefreshCurrentList(symbols)
	j.Log.Info().Int("symbols", len(symbols)).Msg("ticker list refreshed")
	return nil
}

// ConfirmNotFoundsJob implements `confirm-not-founds`: probes every globally not_found
// symbol at the coarsest configured interval and reactivates it on any nonempty result
// (spec.md §4.7 ConfirmNotFounds).
type ConfirmNotFoundsJob struct {
	Registry         *registry.Registry
	Fetcher          fetch.BarFetcher
	CoarsestInterval string
	Clock            clock.Clock
	Log              zerolog.Logger
}

func (j *ConfirmNotFoundsJob) Name() string { return "confirm_not_founds" }

func (j *ConfirmNotFoundsJob) Run(ctx context.Context) error {
	c := j.Clock
	if c == nil {
		c = clock.Real{}
	}
	now := c.Now()
	j.Registry.ConfirmNotFounds(j.CoarsestInterval, func(symbol string) (bool, time.Time) {
		window := fetch.Window{Start: now.Add(-24 * time.Hour), End: now}
		frame, err := j.Fetcher.FetchBars(ctx, symbol, j.CoarsestInterval, window)
		if err != nil || frame.Empty() {
			return false, time.Time{}
		}
		return true, frame.LastTimestamp()
	})
	j.Log.Info().Msg("confirm-not-founds probe complete")
	return nil
}

// ReparseNotFoundsJob implements `reparse-not-founds`: reactivates not_found symbols whose
// last_data_date on any interval is newer than the reactivation horizon, without issuing any
// fetch (spec.md §4.7 ReparseNotFounds) — pure registry bookkeeping, symmetric with
// ConfirmNotFoundsJob's probe-based variant.
type ReparseNotFoundsJob struct {
	Registry *registry.Registry
	Log      zerolog.Logger
}

func (j *ReparseNotFoundsJob) Name() string { return "reparse_not_founds" }

func (j *ReparseNotFoundsJob) Run(context.Context) error {
	j.Registry.ReparseNotFounds()
	j.Log.Info().Msg("reparse-not-founds complete")
	return nil
}
