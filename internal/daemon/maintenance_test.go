package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/fetch/fake"
	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/registry"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *clock.Fixed) {
	t.Helper()
	fixed := clock.NewFixed(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	store, err := config.New(t.TempDir(), fixed)
	require.NoError(t, err)
	reg := registry.New(store, fixed, registry.DefaultConfig())
	require.NoError(t, reg.Load())
	return reg, fixed
}

func TestCadenceSchedule_NeverIsDisabled(t *testing.T) {
	_, ok, err := NewCadenceSchedule(CadenceNever)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCadenceSchedule_DailyDueOnFirstRun(t *testing.T) {
	sched, ok, err := NewCadenceSchedule(CadenceDaily)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sched.Due(time.Time{}, time.Now()))
}

func TestCadenceSchedule_DailyNotDueBeforeNextFiring(t *testing.T) {
	sched, ok, err := NewCadenceSchedule(CadenceDaily)
	require.NoError(t, err)
	require.True(t, ok)

	lastRun := time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)
	now := lastRun.Add(time.Hour)
	require.False(t, sched.Due(lastRun, now))

	require.True(t, sched.Due(lastRun, lastRun.Add(24*time.Hour)))
}

func TestListRefreshJob_UnionMergesSymbols(t *testing.T) {
	reg, _ := newTestRegistry(t)
	provider := stubProvider{symbols: []string{"AAPL", "MSFT"}}
	job := &ListRefreshJob{Registry: reg, Provider: provider, Log: zerolog.Nop()}

	require.NoError(t, job.Run(context.Background()))

	_, ok := reg.Get("AAPL")
	require.True(t, ok)
	_, ok = reg.Get("MSFT")
	require.True(t, ok)
	require.Equal(t, "list_refresh", job.Name())
}

func TestConfirmNotFoundsJob_ReactivatesOnNonemptyProbe(t *testing.T) {
	reg, fixed := newTestRegistry(t)
	reg.RefreshCurrentList([]string{"AAPL"})
	reg.UpdateIntervalStatus("AAPL", "1d", registry.NotFoundOutcome, time.Time{})
	require.False(t, reg.IsActiveForInterval("AAPL", "1d"))
	rec, _ := reg.Get("AAPL")
	require.Equal(t, registry.NotFound, rec.Status)

	fetcher := fake.New()
	fetcher.Script("AAPL", "1d", fake.Response{Frame: model.BarFrame{
		Symbol: "AAPL", Interval: "1d",
		Rows: []model.Bar{{Timestamp: fixed.Now(), Close: 1}},
	}})

	job := &ConfirmNotFoundsJob{Registry: reg, Fetcher: fetcher, CoarsestInterval: "1d", Clock: fixed, Log: zerolog.Nop()}
	require.NoError(t, job.Run(context.Background()))

	rec, _ = reg.Get("AAPL")
	require.Equal(t, registry.Active, rec.Status)
	require.Equal(t, "confirm_not_founds", job.Name())
}

func TestConfirmNotFoundsJob_LeavesSymbolUntouchedOnEmptyProbe(t *testing.T) {
	reg, fixed := newTestRegistry(t)
	reg.RefreshCurrentList([]string{"AAPL"})
	reg.UpdateIntervalStatus("AAPL", "1d", registry.NotFoundOutcome, time.Time{})

	fetcher := fake.New() // no scripted response: empty frame
	job := &ConfirmNotFoundsJob{Registry: reg, Fetcher: fetcher, CoarsestInterval: "1d", Clock: fixed, Log: zerolog.Nop()}
	require.NoError(t, job.Run(context.Background()))

	rec, _ := reg.Get("AAPL")
	require.Equal(t, registry.NotFound, rec.Status)
}

func TestReparseNotFoundsJob_ReactivatesOnRecentData(t *testing.T) {
	reg, fixed := newTestRegistry(t)
	reg.RefreshCurrentList([]string{"AAPL"})
	reg.UpdateIntervalStatus("AAPL", "1d", registry.NotFoundOutcome, time.Time{})
	reg.UpdateIntervalStatus("AAPL", "1d", registry.Found, fixed.Now())
	reg.UpdateIntervalStatus("AAPL", "1d", registry.NotFoundOutcome, time.Time{})
	rec, _ := reg.Get("AAPL")
	require.Equal(t, registry.NotFound, rec.Status)

	job := &ReparseNotFoundsJob{Registry: reg, Log: zerolog.Nop()}
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, "reparse_not_founds", job.Name())

	rec, _ = reg.Get("AAPL")
	require.Equal(t, registry.Active, rec.Status)
}

type stubProvider struct {
	symbols []string
	err     error
}

func (s stubProvider) CurrentSymbols(context.Context) ([]string, error) { return s.symbols, s.err }
