package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/fetch/fake"
	"github.com/aristath/tickerfeed/internal/markethours"
	"github.com/aristath/tickerfeed/internal/pathing"
	"github.com/aristath/tickerfeed/internal/ratelimit"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/scheduler"
	"github.com/aristath/tickerfeed/internal/storage/legacy"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
	"github.com/aristath/tickerfeed/internal/storage/router"
)

func newTestLoop(t *testing.T) (*Loop, *clock.Fixed) {
	t.Helper()
	fixed := clock.NewFixed(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	store, err := config.New(t.TempDir(), fixed)
	require.NoError(t, err)
	reg := registry.New(store, fixed, registry.DefaultConfig())
	require.NoError(t, reg.Load())

	paths := pathing.New(t.TempDir())
	legacyStore := legacy.New(paths, false, zerolog.Nop())
	partitionedStore := partitioned.New(paths, zerolog.Nop())
	storageRouter := router.New(store, legacyStore, partitionedStore, zerolog.Nop())
	limiter := ratelimit.NoOp()
	sched := scheduler.New(nil, nil, router.Binding{Market: "us", Source: "test"}, reg, storageRouter,
		fake.New(), limiter, fixed, zerolog.Nop())

	// always-active gate: a 00:00-23:59 window in UTC with no holidays configured.
	gate := markethours.New(time.UTC, markethours.TradingHours{OpenHour: 0, CloseHour: 23, CloseMinute: 59},
		markethours.HolidayCalendar{})

	loop := &Loop{
		Lock:          NewRunLock(filepath.Join(t.TempDir(), "ingestd.pid")),
		Gate:          gate,
		Scheduler:     sched,
		Registry:      reg,
		Clock:         fixed,
		Log:           zerolog.Nop(),
		SweepInterval: time.Hour,
	}
	return loop, fixed
}

func TestLoop_StopsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	loop, _ := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, loop.Run(ctx))
}

func TestLoop_RunsMaintenanceOnceWhenDue(t *testing.T) {
	loop, _ := newTestLoop(t)
	runs := 0
	ran := make(chan struct{}, 1)
	loop.Maintenance = []MaintenanceEntry{
		{Job: &fnJob{name: "probe", fn: func(context.Context) error { runs++; ran <- struct{}{}; return nil }},
			Schedule: CadenceSchedule{}, Enabled: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-ran
		cancel()
	}()

	require.NoError(t, loop.Run(ctx))
	require.Equal(t, 1, runs, "maintenance job must run exactly once")
}

type fnJob struct {
	name string
	fn   func(context.Context) error
}

func (j *fnJob) Name() string { return j.name }

func (j *fnJob) Run(ctx context.Context) error { return j.fn(ctx) }
