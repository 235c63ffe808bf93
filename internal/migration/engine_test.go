package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/pathing"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/storage/legacy"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
)

type testRig struct {
	engine *Engine
	paths  pathing.Builder
	cfg    *config.Store
	reg    *registry.Registry
	legacy *legacy.Store
	clock  *clock.Fixed
}

func newTestRig(t *testing.T) testRig {
	t.Helper()
	root := t.TempDir()
	paths := pathing.New(root)
	c := clock.NewFixed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	cfgStore, err := config.New(root, c)
	require.NoError(t, err)

	reg := registry.New(cfgStore, c, registry.DefaultConfig())
	// seedLegacySymbol writes through the unrelocated layout, mirroring a daemon running
	// before any migration has touched this interval.
	legacyStore := legacy.New(paths, false, zerolog.Nop())
	partitionedStore := partitioned.New(paths, zerolog.Nop())

	engine := New(cfgStore, paths, partitionedStore, reg, c, nil, zerolog.Nop())
	return testRig{engine: engine, paths: paths, cfg: cfgStore, reg: reg, legacy: legacyStore, clock: c}
}

func bar(day string, close float64) model.Bar {
	ts, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return model.Bar{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 10}
}

func seedLegacySymbol(t *testing.T, rig testRig, interval, symbol string, rows []model.Bar) {
	t.Helper()
	require.NoError(t, rig.legacy.Save(interval, symbol, model.BarFrame{Rows: rows}))
}

// registerSymbols gives the registry the records ClearBinding/SetBinding require to exist.
func registerSymbols(rig testRig, symbols []string, interval string) {
	rig.reg.RefreshCurrentList(symbols)
	for _, sym := range symbols {
		rig.reg.IsActiveForInterval(sym, interval) // no-op touch, keeps symbols referenced
	}
}

// TestMigrate_EndToEnd implements end-to-end scenario S5 (spec.md §8): legacy data is
// staged, verified, and activated, with the registry binding flipped to partitioned.
func TestMigrate_EndToEnd(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"

	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1), bar("2025-01-03", 2)})
	seedLegacySymbol(t, rig, interval, "MSFT", []model.Bar{bar("2025-01-02", 3)})
	registerSymbols(rig, []string{"AAPL", "MSFT"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)

	summary, err := rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.SymbolsMigrated)
	require.Equal(t, 2, summary.SymbolsTotal)

	binding := partitioned.Binding{Market: "us", Source: "yahoo"}
	frame, err := rig.engine.partitioned.Read(binding, "AAPL", interval, nil, nil)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 2)

	bnd, ok := rig.reg.Binding("AAPL", interval)
	require.True(t, ok)
	require.Equal(t, "partitioned", bnd.Backend)

	plan, err := loadPlan(rig.cfg)
	require.NoError(t, err)
	ip := plan.findVenue("us", "yahoo").findInterval(interval)
	require.Equal(t, Completed, ip.Status)

	require.NoError(t, rig.engine.Activate(context.Background(), "us", "yahoo", interval))
	sc, err := rig.cfg.LoadStorageConfig()
	require.NoError(t, err)
	require.Equal(t, "partitioned", sc.PerSource[config.Key("us", "yahoo")].Backend)
}

// TestMigrate_Resumable verifies that a migration run in batches of one symbol still
// migrates every symbol, and that re-running migrate on the completed interval is a no-op.
func TestMigrate_Resumable(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"

	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})
	seedLegacySymbol(t, rig, interval, "MSFT", []model.Bar{bar("2025-01-02", 2)})
	registerSymbols(rig, []string{"AAPL", "MSFT"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)

	summary, err := rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, 2, summary.SymbolsMigrated)

	// Re-running without --resume on an already-completed interval is a cheap no-op.
	summary, err = rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.NoError(t, err)
	require.True(t, summary.AlreadyCompleted)
}

// TestMigrate_RequiresResumeFlagWhileInProgress asserts the in-progress guard from
// spec.md §4.9: re-invoking migrate without --resume on an in-flight plan is rejected.
func TestMigrate_RequiresResumeFlagWhileInProgress(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})
	registerSymbols(rig, []string{"AAPL"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)

	plan, err := loadPlan(rig.cfg)
	require.NoError(t, err)
	venue := plan.findVenue("us", "yahoo")
	venue.findInterval(interval).Status = InProgress
	require.NoError(t, savePlan(rig.cfg, plan))

	_, err = rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, PlanConflict, merr.Kind)
}

// TestMigrate_DryRunTouchesNothing asserts --dry-run never writes staging or active trees.
func TestMigrate_DryRunTouchesNothing(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})
	registerSymbols(rig, []string{"AAPL"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)

	summary, err := rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 0, summary.SymbolsMigrated)

	root := rig.paths.BarSymbolRoot("us", "yahoo", interval, "AAPL")
	_, statErr := os.Stat(root)
	require.True(t, os.IsNotExist(statErr))
}

// TestEstimate_PassesWithAmpleFreeSpace exercises the preflight disk-space check's happy
// path: a small source tree against a real filesystem's free space always clears the 2.5x
// bar, since the test has no way to shrink the host's actual free space to force a failure.
func TestEstimate_PassesWithAmpleFreeSpace(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"

	dir := rig.paths.RelocatedLegacyIntervalDir(interval)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	result, err := rig.engine.Estimate("us", "yahoo", interval)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.FreeBytes, int64(0))
}

// TestVerify_DetectsMismatch confirms that verify flags a symbol whose staged/active tree
// diverges from its legacy source after a manual tamper.
func TestVerify_DetectsMismatch(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1), bar("2025-01-03", 2)})
	registerSymbols(rig, []string{"AAPL"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)
	_, err = rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.NoError(t, err)

	// Tamper with the legacy source after activation so source and active now diverge.
	// Init moved the legacy tree to the relocated path, so write through a relocated store.
	relocated := legacy.New(rig.paths, true, zerolog.Nop())
	require.NoError(t, relocated.Save(interval, "AAPL", model.BarFrame{Rows: []model.Bar{bar("2025-01-04", 99)}}))

	report, err := rig.engine.Verify(context.Background(), "us", "yahoo", interval)
	require.NoError(t, err)
	require.NotEmpty(t, report.Mismatches)
}

// TestRollback_RevertsBindingAndConfig confirms rollback clears explicit registry bindings
// and flips storage_config.json back to legacy without touching the partitioned data.
func TestRollback_RevertsBindingAndConfig(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})
	registerSymbols(rig, []string{"AAPL"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)
	_, err = rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.NoError(t, err)
	require.NoError(t, rig.engine.Activate(context.Background(), "us", "yahoo", interval))

	require.NoError(t, rig.engine.Rollback(context.Background(), "us", "yahoo", interval))

	_, ok := rig.reg.Binding("AAPL", interval)
	require.False(t, ok)

	sc, err := rig.cfg.LoadStorageConfig()
	require.NoError(t, err)
	require.Equal(t, "legacy", sc.PerSource[config.Key("us", "yahoo")].Backend)

	binding := partitioned.Binding{Market: "us", Source: "yahoo"}
	frame, err := rig.engine.partitioned.Read(binding, "AAPL", interval, nil, nil)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 1) // rollback never deletes partitioned data
}

// TestDeleteLegacy_RequiresConfirmation asserts the destructive command aborts when the
// confirm callback declines, and only deletes the relocated legacy tree when it accepts.
func TestDeleteLegacy_RequiresConfirmation(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})
	registerSymbols(rig, []string{"AAPL"}, interval)

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)
	_, err = rig.engine.Migrate(context.Background(), "us", "yahoo", interval, MigrateOptions{})
	require.NoError(t, err)

	err = rig.engine.DeleteLegacy("us", "yahoo", interval, func() bool { return false })
	require.Error(t, err)

	dir := rig.paths.RelocatedLegacyIntervalDir(interval)
	_, statErr := os.Stat(dir)
	require.NoError(t, statErr)

	require.NoError(t, rig.engine.DeleteLegacy("us", "yahoo", interval, func() bool { return true }))
	_, statErr = os.Stat(dir)
	require.True(t, os.IsNotExist(statErr))
}

// TestInit_RelocatesLegacyDirOnce confirms the one-time stocks_<interval> -> legacy/stocks_<interval>
// relocation is idempotent across repeated Init calls.
func TestInit_RelocatesLegacyDirOnce(t *testing.T) {
	rig := newTestRig(t)
	const interval = "1d"
	seedLegacySymbol(t, rig, interval, "AAPL", []model.Bar{bar("2025-01-02", 1)})

	_, err := rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)
	relocated := rig.paths.RelocatedLegacyIntervalDir(interval)
	_, statErr := os.Stat(relocated)
	require.NoError(t, statErr)

	_, err = rig.engine.Init("us", "yahoo", []string{interval})
	require.NoError(t, err)
	_, statErr = os.Stat(relocated)
	require.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(relocated, "AAPL.parquet"))
	require.NoError(t, statErr)
}
