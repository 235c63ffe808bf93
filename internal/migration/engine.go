package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/historylog"
	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/pathing"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/storage/legacy"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
)

// spaceFactor is the required free-space multiple of the source tree's size (spec.md §4.9
// estimate: "require >= 2.5x free space on target filesystem").
const spaceFactor = 2.5

// defaultBatchSize is migrate's default batch size (spec.md §4.9).
const defaultBatchSize = 100

// Engine drives the legacy -> partitioned migration state machine. It reads source data
// through its own relocated-aware legacy.Store rather than sharing the router's, since by
// the time Migrate/Verify run, Init has already relocated stocks_<interval>/ under legacy/.
type Engine struct {
	cfg         *config.Store
	paths       pathing.Builder
	legacy      *legacy.Store
	partitioned *partitioned.Store
	registry    *registry.Registry
	clock       clock.Clock
	history     *historylog.Log // optional; nil disables run-history logging
	log         zerolog.Logger
}

// New constructs an Engine. history may be nil (run-history logging is purely additive,
// SPEC_FULL.md §4.9).
func New(cfg *config.Store, paths pathing.Builder, partitionedStore *partitioned.Store,
	reg *registry.Registry, c clock.Clock, history *historylog.Log, log zerolog.Logger) *Engine {
	if c == nil {
		c = clock.Real{}
	}
	log = log.With().Str("component", "migration_engine").Logger()
	return &Engine{
		cfg: cfg, paths: paths, legacy: legacy.New(paths, true, log), partitioned: partitionedStore,
		registry: reg, clock: c, history: history, log: log,
	}
}

func (e *Engine) binding(market, source string) partitioned.Binding {
	return partitioned.Binding{Market: market, Source: source}
}

// Init creates (or extends) the migration plan for a venue's set of intervals. It enforces
// that source data sits under the relocated legacy/ directory, relocating
// stocks_<interval>/ -> legacy/stocks_<interval>/ the first time an interval is touched
// (spec.md §4.9: "fail if layout does not match" — here satisfied by performing the
// one-time, idempotent relocation rather than requiring the operator to do it out of band).
func (e *Engine) Init(market, source string, intervals []string) (*Plan, error) {
	plan, err := loadPlan(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		plan = &Plan{ID: newPlanID(), Version: PlanVersion, CreatedAt: e.clock.Now().UTC()}
	}

	venue := plan.findVenue(market, source)
	if venue == nil {
		plan.Venues = append(plan.Venues, Venue{Market: market, Source: source})
		venue = &plan.Venues[len(plan.Venues)-1]
	}

	for _, interval := range intervals {
		if err := e.relocateLegacy(interval); err != nil {
			return nil, newError(PlanConflict, "init", err)
		}
		if venue.findInterval(interval) == nil {
			venue.Intervals = append(venue.Intervals, IntervalPlan{Name: interval, Status: Pending})
		}
	}

	if err := savePlan(e.cfg, plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	e.log.Info().Str("market", market).Str("source", source).Strs("intervals", intervals).Msg("migration plan initialized")
	return plan, nil
}

// relocateLegacy moves root/stocks_<interval>/ to root/legacy/stocks_<interval>/ the first
// time it is touched. A no-op if already relocated or if no data exists yet for this
// interval (a fresh interval with nothing to migrate is not an error).
func (e *Engine) relocateLegacy(interval string) error {
	relocated := e.paths.RelocatedLegacyIntervalDir(interval)
	if _, err := os.Stat(relocated); err == nil {
		return nil // already relocated
	}

	unrelocated := e.paths.LegacyIntervalDir(interval)
	if _, err := os.Stat(unrelocated); err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to migrate for this interval yet
		}
		return fmt.Errorf("stat %s: %w", unrelocated, err)
	}

	if err := os.MkdirAll(filepath.Dir(relocated), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(relocated), err)
	}
	if err := os.Rename(unrelocated, relocated); err != nil {
		return fmt.Errorf("relocate %s -> %s: %w", unrelocated, relocated, err)
	}
	return nil
}

// EstimateResult reports the preflight disk-space check from spec.md §4.9.
type EstimateResult struct {
	SourceBytes   int64
	FreeBytes     int64
	RequiredBytes int64
}

// Estimate computes the source interval's size and checks it against free space on the
// target filesystem, per spec.md §4.9's 2.5x requirement. A failure here is returned before
// any write (the migrate preflight).
func (e *Engine) Estimate(market, source, interval string) (EstimateResult, error) {
	srcDir := e.paths.RelocatedLegacyIntervalDir(interval)
	sourceBytes, err := dirSize(srcDir)
	if err != nil {
		return EstimateResult{}, fmt.Errorf("measure source size: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(e.paths.Root, &stat); err != nil {
		return EstimateResult{}, fmt.Errorf("stat filesystem: %w", err)
	}
	freeBytes := int64(stat.Bavail) * int64(stat.Bsize)
	required := int64(float64(sourceBytes) * spaceFactor)

	result := EstimateResult{SourceBytes: sourceBytes, FreeBytes: freeBytes, RequiredBytes: required}
	if freeBytes < required {
		return result, newError(DiskFull, "estimate",
			fmt.Errorf("need %d bytes free (%.1fx source), have %d", required, spaceFactor, freeBytes))
	}
	return result, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

// MigrateOptions configures one migrate invocation (spec.md §4.9).
type MigrateOptions struct {
	BatchSize int
	DryRun    bool
	Resume    bool
}

// Summary reports the outcome of one migrate invocation.
type Summary struct {
	SymbolsTotal     int
	SymbolsMigrated  int
	SymbolsSkipped   int
	AlreadyCompleted bool
}

// Migrate copies one (venue, interval)'s legacy symbols into the staging tree, verifies
// each, and activates each verified symbol atomically, per spec.md §4.9 steps 1-6.
func (e *Engine) Migrate(ctx context.Context, market, source, interval string, opts MigrateOptions) (Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	started := e.clock.Now().UTC()

	plan, err := loadPlan(e.cfg)
	if err != nil {
		return Summary{}, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return Summary{}, newError(PlanConflict, "migrate", fmt.Errorf("no migration plan; run init first"))
	}
	venue := plan.findVenue(market, source)
	if venue == nil {
		return Summary{}, newError(PlanConflict, "migrate", fmt.Errorf("venue %s:%s not initialized", market, source))
	}
	ip := venue.findInterval(interval)
	if ip == nil {
		return Summary{}, newError(PlanConflict, "migrate", fmt.Errorf("interval %s not initialized for %s:%s", interval, market, source))
	}

	if ip.Status == Completed {
		return Summary{SymbolsTotal: ip.SymbolsTotal, SymbolsMigrated: ip.SymbolsMigrated, AlreadyCompleted: true}, nil
	}
	if ip.Status == InProgress && !opts.Resume {
		return Summary{}, newError(PlanConflict, "migrate",
			fmt.Errorf("migration for %s:%s/%s already in progress; pass --resume", market, source, interval))
	}

	if !opts.DryRun {
		if _, err := e.Estimate(market, source, interval); err != nil {
			return Summary{}, err
		}
	}

	symbols, err := e.legacySymbols(interval)
	if err != nil {
		return Summary{}, fmt.Errorf("list legacy symbols: %w", err)
	}
	if ip.SymbolsTotal == 0 {
		ip.SymbolsTotal = len(symbols)
	}

	var toProcess []string
	for _, sym := range symbols {
		if opts.Resume && ip.hasMigrated(sym) {
			continue
		}
		toProcess = append(toProcess, sym)
	}

	summary := Summary{SymbolsTotal: ip.SymbolsTotal}

	if opts.DryRun {
		for _, sym := range toProcess {
			frame, err := e.legacy.Read(interval, sym)
			if err != nil {
				return summary, fmt.Errorf("dry-run read %s: %w", sym, err)
			}
			e.log.Info().Str("symbol", sym).Int("rows", len(frame.Rows)).Msg("dry-run: would migrate")
		}
		summary.SymbolsMigrated = len(ip.MigratedSymbols)
		summary.SymbolsSkipped = len(symbols) - len(toProcess)
		return summary, nil
	}

	ip.Status = InProgress
	if err := savePlan(e.cfg, plan); err != nil {
		return summary, fmt.Errorf("checkpoint plan: %w", err)
	}

	binding := e.binding(market, source)
	failed := false

	// Checkpointed per symbol (spec.md §4.9 step 6), not per batch: Migrate works through
	// every batch of BatchSize symbols in this one call, and BatchSize does not change how
	// often progress is persisted.
	for batchStart := 0; batchStart < len(toProcess); batchStart += opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := batchStart + opts.BatchSize
		if end > len(toProcess) {
			end = len(toProcess)
		}
		batch := toProcess[batchStart:end]

		for _, sym := range batch {
			if ctx.Err() != nil {
				break
			}
			if err := e.migrateOne(binding, market, source, interval, sym, ip); err != nil {
				var verr *Error
				if ok := asVerificationFailure(err, &verr); ok {
					ip.Status = Failed
					_ = savePlan(e.cfg, plan)
					failed = true
					break
				}
				return summary, err
			}
			if err := savePlan(e.cfg, plan); err != nil {
				return summary, fmt.Errorf("checkpoint plan: %w", err)
			}
			if err := e.registry.Save(); err != nil {
				return summary, fmt.Errorf("save registry: %w", err)
			}
		}
		if failed || ctx.Err() != nil {
			break
		}
	}

	summary.SymbolsMigrated = len(ip.MigratedSymbols)
	summary.SymbolsSkipped = len(symbols) - len(toProcess)

	if !failed && ctx.Err() == nil && len(ip.MigratedSymbols) >= ip.SymbolsTotal {
		ip.Status = Completed
	}
	if err := savePlan(e.cfg, plan); err != nil {
		return summary, fmt.Errorf("checkpoint plan: %w", err)
	}

	e.appendHistory(ctx, "migrate", market, source, interval, started, !failed, summary.SymbolsMigrated)

	if failed {
		return summary, newError(VerificationFailed, "migrate", fmt.Errorf("verification failed for %s:%s/%s; activation metadata unchanged", market, source, interval))
	}
	return summary, ctx.Err()
}

func asVerificationFailure(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok || e.Kind != VerificationFailed {
		return false
	}
	*target = e
	return true
}

// migrateOne performs spec.md §4.9 steps 1-6 for a single symbol: read source, write
// staging, verify, activate, bind registry, checkpoint.
func (e *Engine) migrateOne(binding partitioned.Binding, market, source, interval, symbol string, ip *IntervalPlan) error {
	frame, err := e.legacy.Read(interval, symbol)
	if err != nil {
		return fmt.Errorf("read legacy %s: %w", symbol, err)
	}

	if frame.Empty() {
		ip.markMigrated(symbol)
		return nil
	}

	if err := e.partitioned.SaveStaging(binding, symbol, interval, frame); err != nil {
		return fmt.Errorf("stage %s: %w", symbol, err)
	}

	staged, err := e.partitioned.ReadStaging(binding, symbol, interval)
	if err != nil {
		return fmt.Errorf("read staged %s: %w", symbol, err)
	}

	if len(staged.Rows) != len(frame.Rows) {
		return newError(VerificationFailed, "migrate",
			fmt.Errorf("%s: row count mismatch, source=%d staged=%d", symbol, len(frame.Rows), len(staged.Rows)))
	}
	if got, want := checksumOf(staged.Rows), checksumOf(frame.Rows); got != want {
		return newError(VerificationFailed, "migrate", fmt.Errorf("%s: checksum mismatch", symbol))
	}

	if err := e.partitioned.ActivateStaging(binding, symbol, interval); err != nil {
		return fmt.Errorf("activate %s: %w", symbol, err)
	}

	e.registry.SetBinding(symbol, interval, registry.StorageBinding{Backend: "partitioned", Market: market, Source: source})
	ip.markMigrated(symbol)
	return nil
}

// legacySymbols lists the symbols present under the relocated legacy layout for one
// interval, by globbing *.<ext> files and stripping the extension, sorted alphabetically
// (spec.md §4.8's tie-break convention reused here for deterministic batch ordering).
func (e *Engine) legacySymbols(interval string) ([]string, error) {
	dir := e.paths.RelocatedLegacyIntervalDir(interval)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	suffix := "." + pathing.Ext
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), suffix) {
			symbols = append(symbols, strings.TrimSuffix(entry.Name(), suffix))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// VerifyReport is the per-symbol mismatch report from a standalone verify run.
type VerifyReport struct {
	Checked    int
	Mismatches []string
}

// Verify re-runs row-count and checksum verification for every symbol already recorded as
// migrated, without copying anything (spec.md §4.9 verify).
func (e *Engine) Verify(ctx context.Context, market, source, interval string) (VerifyReport, error) {
	started := e.clock.Now().UTC()
	plan, err := loadPlan(e.cfg)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return VerifyReport{}, newError(PlanConflict, "verify", fmt.Errorf("no migration plan"))
	}
	venue := plan.findVenue(market, source)
	if venue == nil {
		return VerifyReport{}, newError(PlanConflict, "verify", fmt.Errorf("venue %s:%s not initialized", market, source))
	}
	ip := venue.findInterval(interval)
	if ip == nil {
		return VerifyReport{}, newError(PlanConflict, "verify", fmt.Errorf("interval %s not initialized", interval))
	}

	binding := e.binding(market, source)
	report := VerifyReport{Checked: len(ip.MigratedSymbols)}

	for _, sym := range ip.MigratedSymbols {
		legacyFrame, err := e.legacy.Read(interval, sym)
		if err != nil {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: read source failed: %v", sym, err))
			continue
		}
		active, err := e.partitioned.Read(binding, sym, interval, nil, nil)
		if err != nil {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: read active failed: %v", sym, err))
			continue
		}
		if len(legacyFrame.Rows) != len(active.Rows) || checksumOf(legacyFrame.Rows) != checksumOf(active.Rows) {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: mismatch (source=%d rows, active=%d rows)", sym, len(legacyFrame.Rows), len(active.Rows)))
		}
	}

	now := e.clock.Now().UTC()
	ip.VerifiedAt = &now
	ip.ChecksumVerified = len(report.Mismatches) == 0
	if err := savePlan(e.cfg, plan); err != nil {
		return report, fmt.Errorf("save plan: %w", err)
	}

	e.appendHistory(ctx, "verify", market, source, interval, started, ip.ChecksumVerified, report.Checked)
	return report, nil
}

// Activate flips the (market, source) default backend to partitioned in storage_config.json
// — metadata only, per spec.md §4.9. It requires the interval to have
// completed migration, to keep the default from pointing at data that was never verified.
func (e *Engine) Activate(ctx context.Context, market, source, interval string) error {
	started := e.clock.Now().UTC()
	plan, err := loadPlan(e.cfg)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return newError(ConfigInvalid, "activate", fmt.Errorf("no migration plan"))
	}
	venue := plan.findVenue(market, source)
	if venue == nil {
		return newError(ConfigInvalid, "activate", fmt.Errorf("venue %s:%s not initialized", market, source))
	}
	ip := venue.findInterval(interval)
	if ip == nil || ip.Status != Completed {
		return newError(ConfigInvalid, "activate", fmt.Errorf("interval %s not completed for %s:%s", interval, market, source))
	}

	sc, err := e.cfg.LoadStorageConfig()
	if err != nil {
		return fmt.Errorf("load storage config: %w", err)
	}
	sc.PerSource[config.Key(market, source)] = config.SourceOverride{Backend: "partitioned"}
	if err := e.cfg.SaveStorageConfig(sc); err != nil {
		return fmt.Errorf("save storage config: %w", err)
	}
	e.log.Info().Str("market", market).Str("source", source).Str("interval", interval).
		Msg("activated partitioned storage default")
	e.appendHistory(ctx, "activate", market, source, interval, started, true, 0)
	return nil
}

// Rollback reverts every migrated symbol's registry binding for (venue, interval) back to
// legacy and restores the (market, source) default. It never deletes partitioned data
// (spec.md §4.9).
func (e *Engine) Rollback(ctx context.Context, market, source, interval string) error {
	started := e.clock.Now().UTC()
	for _, sym := range e.registry.Snapshot() {
		binding, ok := e.registry.Binding(sym, interval)
		if !ok || binding.Backend != "partitioned" || binding.Market != market || binding.Source != source {
			continue
		}
		e.registry.ClearBinding(sym, interval)
	}
	if err := e.registry.Save(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	sc, err := e.cfg.LoadStorageConfig()
	if err != nil {
		return fmt.Errorf("load storage config: %w", err)
	}
	if _, ok := sc.PerSource[config.Key(market, source)]; ok {
		sc.PerSource[config.Key(market, source)] = config.SourceOverride{Backend: "legacy"}
		if err := e.cfg.SaveStorageConfig(sc); err != nil {
			return fmt.Errorf("save storage config: %w", err)
		}
	}
	e.log.Warn().Str("market", market).Str("source", source).Str("interval", interval).
		Msg("rolled back to legacy storage")
	e.appendHistory(ctx, "rollback", market, source, interval, started, true, 0)
	return nil
}

// DeleteLegacy is the separate, explicit destructive command from spec.md §4.9: it only
// runs after confirm reports true, and only once the interval's migration has completed.
func (e *Engine) DeleteLegacy(market, source, interval string, confirm func() bool) error {
	plan, err := loadPlan(e.cfg)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return newError(ConfigInvalid, "delete-legacy", fmt.Errorf("no migration plan"))
	}
	venue := plan.findVenue(market, source)
	if venue == nil {
		return newError(ConfigInvalid, "delete-legacy", fmt.Errorf("venue %s:%s not initialized", market, source))
	}
	ip := venue.findInterval(interval)
	if ip == nil || ip.Status != Completed {
		return newError(ConfigInvalid, "delete-legacy", fmt.Errorf("interval %s not completed for %s:%s", interval, market, source))
	}
	if !confirm() {
		return fmt.Errorf("delete-legacy aborted by operator")
	}

	dir := e.paths.RelocatedLegacyIntervalDir(interval)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete legacy directory %s: %w", dir, err)
	}
	e.log.Warn().Str("dir", dir).Msg("deleted legacy directory")
	return nil
}

func (e *Engine) appendHistory(ctx context.Context, command, market, source, interval string, started time.Time, ok bool, migrated int) {
	if e.history == nil {
		return
	}
	outcome := historylog.Success
	if !ok {
		outcome = historylog.Failure
	}
	run := historylog.Run{
		Command: command, Venue: config.Key(market, source), Interval: interval,
		StartedAt: started, FinishedAt: e.clock.Now().UTC(), Outcome: outcome, SymbolsMigrated: migrated,
	}
	if err := e.history.Append(ctx, run); err != nil {
		e.log.Warn().Err(err).Msg("failed to append migration run history")
	}
}

func checksumOf(rows []model.Bar) string { return model.ChecksumBars(rows) }
