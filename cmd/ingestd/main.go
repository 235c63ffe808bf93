// Command ingestd is the market-data ingestion daemon's entry point (spec.md §1-2). It wires
// ConfigStore, SymbolRegistry, StorageRouter, RateLimiter, IntervalScheduler, TradingHoursGate,
// and RunLock/DaemonLoop together, then either runs one of the one-shot commands from spec.md
// §6's CLI surface or starts the daemon loop, following cmd/server/main.go's load-config ->
// init-logger -> wire-deps -> start -> signal -> ordered-shutdown shape.
//
// No HTTP fetcher implementation ships with this binary (spec.md §1 non-goal: remote clients
// are pluggable collaborators). The wiring below uses internal/fetch/fake's scripted fetcher
// as the placeholder BarFetcher and noopLister as the placeholder ListProvider; no
// TradeFetcher is wired. A real deployment replaces them with concrete implementations of
// those interfaces without touching anything else wired here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/daemon"
	"github.com/aristath/tickerfeed/internal/fetch/fake"
	"github.com/aristath/tickerfeed/internal/markethours"
	"github.com/aristath/tickerfeed/internal/pathing"
	"github.com/aristath/tickerfeed/internal/ratelimit"
	"github.com/aristath/tickerfeed/internal/registry"
	"github.com/aristath/tickerfeed/internal/scheduler"
	"github.com/aristath/tickerfeed/internal/storage/legacy"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
	"github.com/aristath/tickerfeed/internal/storage/router"
	"github.com/aristath/tickerfeed/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	workDir := flag.String("work-dir", "", "working directory root (default: $TICKERFEED_DATA_DIR or ./data)")
	market := flag.String("market", "us", "market the daemon ingests (storage partition key)")
	source := flag.String("source", "default", "quote source name (storage partition key)")
	maxRequests := flag.Int("limit-requests", 3, "rate limiter: max requests per window")
	windowSeconds := flag.Int("limit-window-seconds", 2, "rate limiter: window length, seconds")
	runDaemon := flag.Bool("daemon", false, "run continuously instead of exiting after one sweep")
	sweepInterval := flag.Duration("interval", time.Hour, "sleep between sweeps in --daemon mode")
	pidFile := flag.String("pid-file", "", "PID lock file path (default: <work-dir>/ingestd.pid)")
	tradingHours := flag.String("trading-hours", "08:30-18:00", "active window, local market time, HH:MM-HH:MM")
	marketTimezone := flag.String("market-timezone", "America/New_York", "IANA timezone for --trading-hours")
	extendedHours := flag.Bool("extended-hours", false, "widen the active window by +/-90 minutes")
	maintenanceCadence := flag.String("ticker-maintenance", "daily", "never|daily|weekly|monthly")
	flag.Parse()

	command := "update-data"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	env, err := config.LoadEnv(*workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load environment:", err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: env.LogLevel, Pretty: true})
	log.Info().Str("command", command).Bool("daemon", *runDaemon).Msg("starting ingestd")

	realClock := clock.Real{}
	cfgStore, err := config.New(env.DataDir, realClock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open working directory")
	}

	intervals, err := cfgStore.LoadIntervals()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load intervals.json")
	}
	if len(intervals) == 0 {
		intervals = []string{"1m", "1h", "1d"}
		if err := cfgStore.SaveIntervals(intervals); err != nil {
			log.Fatal().Err(err).Msg("failed to seed intervals.json")
		}
	}

	reg := registry.New(cfgStore, realClock, registry.DefaultConfig())
	if err := reg.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load tickers.json")
	}

	paths := pathing.New(env.DataDir)
	legacyStore := legacy.New(paths, false, log)
	partitionedStore := partitioned.New(paths, log)
	storageRouter := router.New(cfgStore, legacyStore, partitionedStore, log)
	limiter := ratelimit.New(*maxRequests, time.Duration(*windowSeconds)*time.Second)

	fetcher := fake.New()       // placeholder BarFetcher; see package doc comment above
	listProvider := noopLister{} // placeholder ListProvider; a real deployment supplies its own
	binding := router.Binding{Market: *market, Source: *source}
	constraints := map[string]scheduler.WindowConstraint{
		"1m": {MaxHistory: 7 * 24 * time.Hour},
		"1h": {MaxHistory: 729 * 24 * time.Hour},
	}
	sched := scheduler.New(intervals, constraints, binding, reg, storageRouter, fetcher, limiter, realClock, log)

	if *pidFile == "" {
		*pidFile = filepath.Join(env.DataDir, "ingestd.pid")
	}

	switch command {
	case "update-data":
		runSweep(context.Background(), sched, log)
		return
	case "initialize":
		log.Info().Msg("initialized working directory and default documents")
		return
	case "update-tickers":
		job := &daemon.ListRefreshJob{Registry: reg, Provider: listProvider, Log: log}
		runJob(context.Background(), job, reg, log)
		return
	case "confirm-not-founds":
		coarsest := intervals[len(intervals)-1]
		job := &daemon.ConfirmNotFoundsJob{Registry: reg, Fetcher: fetcher, CoarsestInterval: coarsest, Clock: realClock, Log: log}
		runJob(context.Background(), job, reg, log)
		return
	case "reparse-not-founds":
		job := &daemon.ReparseNotFoundsJob{Registry: reg, Log: log}
		runJob(context.Background(), job, reg, log)
		return
	case "partition-toggle":
		toggleDefaultBackend(cfgStore, *market, *source, log)
		return
	}

	if !*runDaemon {
		runSweep(context.Background(), sched, log)
		return
	}

	gate, err := buildGate(*tradingHours, *marketTimezone, *extendedHours)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trading-hours configuration")
	}

	cadence, cadenceOK, err := daemon.NewCadenceSchedule(daemon.Cadence(*maintenanceCadence))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid --ticker-maintenance cadence")
	}

	loop := &daemon.Loop{
		Lock:          daemon.NewRunLock(*pidFile),
		Gate:          gate,
		Scheduler:     sched,
		Registry:      reg,
		Clock:         realClock,
		Log:           log,
		SweepInterval: *sweepInterval,
		Maintenance: []daemon.MaintenanceEntry{
			{Job: &daemon.ListRefreshJob{Registry: reg, Provider: listProvider, Log: log}, Schedule: cadence, Enabled: cadenceOK},
			{Job: &daemon.ConfirmNotFoundsJob{Registry: reg, Fetcher: fetcher, CoarsestInterval: intervals[len(intervals)-1], Clock: realClock, Log: log}, Schedule: cadence, Enabled: cadenceOK},
			{Job: &daemon.ReparseNotFoundsJob{Registry: reg, Log: log}, Schedule: cadence, Enabled: cadenceOK},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, finishing current symbol before exit")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("daemon loop exited with error")
	}
	log.Info().Msg("ingestd stopped")
}

func runSweep(ctx context.Context, sched *scheduler.Scheduler, log zerolog.Logger) {
	if err := sched.Run(ctx, nil, nil); err != nil {
		log.Error().Err(err).Msg("sweep failed")
		os.Exit(1)
	}
}

func runJob(ctx context.Context, job daemon.Job, reg *registry.Registry, log zerolog.Logger) {
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", job.Name()).Msg("maintenance job failed")
		os.Exit(1)
	}
	if err := reg.Save(); err != nil {
		log.Error().Err(err).Msg("failed to persist registry")
		os.Exit(1)
	}
}

func buildGate(tradingHours, timezone string, extended bool) (*markethours.Gate, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", timezone, err)
	}
	openH, openM, closeH, closeM, err := parseHoursRange(tradingHours)
	if err != nil {
		return nil, err
	}
	if extended {
		openM -= 90
		for openM < 0 {
			openM += 60
			openH--
		}
		closeM += 90
		for closeM >= 60 {
			closeM -= 60
			closeH++
		}
	}
	return markethours.New(loc, markethours.TradingHours{
		OpenHour: openH, OpenMinute: openM, CloseHour: closeH, CloseMinute: closeM,
	}, markethours.USHolidays()), nil
}

func parseHoursRange(s string) (openH, openM, closeH, closeM int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, 0, fmt.Errorf("invalid --trading-hours %q, want HH:MM-HH:MM", s)
	}
	openH, openM, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	closeH, closeM, err = parseHHMM(parts[1])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return openH, openM, closeH, closeM, nil
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	return h, m, nil
}

func toggleDefaultBackend(cfgStore *config.Store, market, source string, log zerolog.Logger) {
	sc, err := cfgStore.LoadStorageConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load storage_config.json")
	}
	key := config.Key(market, source)
	entry := sc.PerSource[key]
	if entry.Backend == "partitioned" {
		entry.Backend = "legacy"
	} else {
		entry.Backend = "partitioned"
	}
	sc.PerSource[key] = entry
	if err := cfgStore.SaveStorageConfig(sc); err != nil {
		log.Fatal().Err(err).Msg("failed to save storage_config.json")
	}
	log.Info().Str("market", market).Str("source", source).Str("backend", entry.Backend).Msg("toggled default storage backend")
}

// noopLister is the default daemon.ListProvider placeholder: it reports no new symbols,
// since no real symbol-universe source is wired by default (see package doc comment).
type noopLister struct{}

func (noopLister) CurrentSymbols(context.Context) ([]string, error) { return nil, nil }
