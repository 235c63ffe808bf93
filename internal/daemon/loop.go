package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/markethours"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/scheduler"
)

// pollInterval bounds how often the loop re-checks the cancellation flag while sleeping,
// per spec.md §4.10: "polling the cancellation flag at <=60s granularity."
const pollInterval = 60 * time.Second

// Loop implements the DaemonLoop control flow from spec.md §4.10: acquire RunLock, gate on
// trading hours, run maintenance at a configured cadence, sweep, sleep, repeat until
// cancelled.
type Loop struct {
	Lock      *RunLock
	Gate      *markethours.Gate
	Scheduler *scheduler.Scheduler
	Registry  *registry.Registry
	Clock     clock.Clock
	Log       zerolog.Logger

	// SweepInterval is the `--interval` duration slept between cycles while trading hours
	// are active.
	SweepInterval time.Duration

	// Maintenance jobs, each gated by its own CadenceSchedule. A job whose schedule is
	// absent (ok=false, i.e. configured "never") is never run.
	Maintenance []MaintenanceEntry
}

// MaintenanceEntry pairs a Job with the cadence that gates it and tracks the job's own
// last-run time, independent of the others (spec.md §4.10: "at most once per configured
// cadence").
type MaintenanceEntry struct {
	Job      Job
	Schedule CadenceSchedule
	Enabled  bool
	lastRun  time.Time
}

// Run acquires the lock and executes cycles until ctx is cancelled, then persists the
// registry, releases the lock, and returns. Callers install signal handlers that cancel ctx;
// Run itself performs no signal handling (spec.md §4.10 separates acquisition/shutdown from
// the OS-signal plumbing, which lives in cmd/ingestd).
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := l.Registry.Save(); err != nil {
			l.Log.Error().Err(err).Msg("failed to persist registry on shutdown")
		}
		if err := l.Lock.Release(); err != nil {
			l.Log.Error().Err(err).Msg("failed to release run lock")
		}
	}()

	c := l.Clock
	if c == nil {
		c = clock.Real{}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := c.Now()
		if !l.Gate.IsActive(now) {
			boundary := l.Gate.NextActiveBoundary(now)
			if l.sleepUntil(ctx, boundary) {
				return nil
			}
			continue
		}

		l.runDueMaintenance(ctx, now)

		if err := l.Scheduler.Run(ctx, nil, nil); err != nil {
			l.Log.Error().Err(err).Msg("sweep failed")
		}

		if l.sleepFor(ctx, l.SweepInterval) {
			return nil
		}
	}
}

func (l *Loop) runDueMaintenance(ctx context.Context, now time.Time) {
	for i := range l.Maintenance {
		entry := &l.Maintenance[i]
		if !entry.Enabled {
			continue
		}
		if !entry.Schedule.Due(entry.lastRun, now) {
			continue
		}
		if err := entry.Job.Run(ctx); err != nil {
			l.Log.Warn().Str("job", entry.Job.Name()).Err(err).Msg("maintenance job failed")
		}
		entry.lastRun = now
	}
}

// sleepUntil blocks until boundary or cancellation, polling at pollInterval granularity.
// Returns true iff cancelled.
func (l *Loop) sleepUntil(ctx context.Context, boundary time.Time) bool {
	for {
		c := l.Clock
		if c == nil {
			c = clock.Real{}
		}
		remaining := boundary.Sub(c.Now())
		if remaining <= 0 {
			return ctx.Err() != nil
		}
		wait := remaining
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(wait):
		}
	}
}

// sleepFor blocks for d or until cancellation, polling at pollInterval granularity. Returns
// true iff cancelled.
func (l *Loop) sleepFor(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err() != nil
		}
		wait := remaining
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(wait):
		}
	}
}
