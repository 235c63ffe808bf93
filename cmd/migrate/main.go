// Command migrate is the one-shot legacy-to-partitioned migration tool from spec.md §4.9/§6:
// `init | estimate | migrate | verify | activate | rollback | delete-legacy`, scoped by
// `--venue MARKET:SOURCE --interval X`. It wires the same ConfigStore/PathBuilder/
// PartitionedStore/SymbolRegistry as cmd/ingestd, plus internal/historylog's run-history
// audit trail and the optional internal/migration.ColdArchive upload, following this codebase's
// main.go load-config -> init-logger -> wire-deps -> execute -> exit shape, adapted for a
// one-shot CLI instead of a long-running server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/historylog"
	"github.com/aristath/tickerfeed/internal/migration"
	"github.com/aristath/tickerfeed/internal/pathing"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
	"github.com/aristath/tickerfeed/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	workDir := flag.String("work-dir", "", "working directory root (default: $TICKERFEED_DATA_DIR or ./data)")
	venue := flag.String("venue", "", "MARKET:SOURCE, e.g. us:yahoo")
	interval := flag.String("interval", "", "interval to operate on, e.g. 1d")
	intervalsFlag := flag.String("intervals", "", "comma-separated intervals (init only)")
	batchSize := flag.Int("batch-size", 0, "migrate: symbols per batch; progress is checkpointed per symbol (default 100)")
	dryRun := flag.Bool("dry-run", false, "migrate: report what would move without writing")
	resume := flag.Bool("resume", false, "migrate: skip symbols already recorded as migrated")
	archiveBucket := flag.String("archive", "", "migrate: optional S3-compatible bucket for post-activation cold archive")
	archiveRegion := flag.String("archive-region", "us-east-1", "archive bucket region")
	archiveEndpoint := flag.String("archive-endpoint", "", "archive bucket custom endpoint (S3-compatible providers)")
	yes := flag.Bool("yes", false, "delete-legacy: skip the confirmation prompt")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate <init|estimate|migrate|verify|activate|rollback|delete-legacy> --venue MARKET:SOURCE --interval X")
		os.Exit(2)
	}
	command := flag.Arg(0)

	market, source, err := splitVenue(*venue)
	if err != nil && command != "" {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	env, err := config.LoadEnv(*workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load environment:", err)
		os.Exit(2)
	}
	log := logger.New(logger.Config{Level: env.LogLevel, Pretty: true})

	realClock := clock.Real{}
	cfgStore, err := config.New(env.DataDir, realClock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open working directory")
	}

	paths := pathing.New(env.DataDir)
	partitionedStore := partitioned.New(paths, log)
	reg := registry.New(cfgStore, realClock, registry.DefaultConfig())
	if err := reg.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load tickers.json")
	}

	var history *historylog.Log
	if h, err := historylog.Open(filepath.Join(env.DataDir, "historylog.db")); err != nil {
		log.Warn().Err(err).Msg("run-history logging disabled: failed to open historylog.db")
	} else {
		history = h
		defer history.Close()
	}

	engine := migration.New(cfgStore, paths, partitionedStore, reg, realClock, history, log)
	ctx := context.Background()

	switch command {
	case "init":
		intervals := splitCSV(*intervalsFlag)
		if *interval != "" {
			intervals = append(intervals, *interval)
		}
		if len(intervals) == 0 {
			fatalUsage("init requires --interval or --intervals")
		}
		plan, err := engine.Init(market, source, intervals)
		exitOnError(log, err)
		log.Info().Str("plan_id", plan.ID).Msg("migration plan initialized")

	case "estimate":
		requireInterval(*interval)
		result, err := engine.Estimate(market, source, *interval)
		exitOnError(log, err)
		log.Info().Int64("source_bytes", result.SourceBytes).Int64("free_bytes", result.FreeBytes).
			Int64("required_bytes", result.RequiredBytes).Msg("estimate complete")

	case "migrate":
		requireInterval(*interval)
		summary, err := engine.Migrate(ctx, market, source, *interval, migration.MigrateOptions{
			BatchSize: *batchSize, DryRun: *dryRun, Resume: *resume,
		})
		if err != nil {
			var merr *migration.Error
			if errors.As(err, &merr) {
				log.Error().Str("kind", merr.Kind.String()).Err(err).Msg("migrate failed")
				os.Exit(1)
			}
			exitOnError(log, err)
		}
		log.Info().Int("total", summary.SymbolsTotal).Int("migrated", summary.SymbolsMigrated).
			Int("skipped", summary.SymbolsSkipped).Bool("already_completed", summary.AlreadyCompleted).
			Msg("migrate complete")

		if *archiveBucket != "" {
			arch, err := migration.NewColdArchive(ctx, migration.ArchiveConfig{
				Bucket: *archiveBucket, Region: *archiveRegion, Endpoint: *archiveEndpoint,
			})
			exitOnError(log, err)
			for _, sym := range reg.Snapshot() {
				binding, ok := reg.Binding(sym, *interval)
				if !ok || binding.Backend != "partitioned" || binding.Market != market || binding.Source != source {
					continue
				}
				if err := engine.Archive(ctx, arch, market, source, *interval, sym); err != nil {
					log.Warn().Str("symbol", sym).Err(err).Msg("archive upload failed")
				}
			}
		}

	case "verify":
		requireInterval(*interval)
		report, err := engine.Verify(ctx, market, source, *interval)
		exitOnError(log, err)
		log.Info().Int("checked", report.Checked).Int("mismatches", len(report.Mismatches)).Msg("verify complete")
		for _, m := range report.Mismatches {
			fmt.Println(m)
		}
		if len(report.Mismatches) > 0 {
			os.Exit(1)
		}

	case "activate":
		requireInterval(*interval)
		exitOnError(log, engine.Activate(ctx, market, source, *interval))
		log.Info().Msg("activated")

	case "rollback":
		requireInterval(*interval)
		exitOnError(log, engine.Rollback(ctx, market, source, *interval))
		log.Info().Msg("rolled back")

	case "delete-legacy":
		requireInterval(*interval)
		confirm := func() bool {
			if *yes {
				return true
			}
			fmt.Printf("permanently delete legacy data for %s:%s/%s? [y/N] ", market, source, *interval)
			var answer string
			fmt.Scanln(&answer)
			return strings.EqualFold(strings.TrimSpace(answer), "y")
		}
		exitOnError(log, engine.DeleteLegacy(market, source, *interval, confirm))
		log.Warn().Msg("legacy data deleted")

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(2)
	}
}

func splitVenue(s string) (market, source string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid --venue %q, want MARKET:SOURCE", s)
	}
	return parts[0], parts[1], nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func requireInterval(interval string) {
	if interval == "" {
		fatalUsage("this command requires --interval")
	}
}

func fatalUsage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

func exitOnError(log zerolog.Logger, err error) {
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
