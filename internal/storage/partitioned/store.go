// Package partitioned implements the Hive-partitioned columnar store (spec.md §4.5): write
// path partitions by (year, month), merges with dedup-by-timestamp, and commits each
// partition file atomically via temp-file + rename. Read path globs a symbol's partition
// subtree and concatenates in timestamp order.
//
// The container format is github.com/parquet-go/parquet-go, grounded in the pack's own
// OHLCV-ingestion reference (other_examples: chenjiangme-jupitor's store.NewParquetStore).
package partitioned

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/pathing"
)

// Store reads and writes bar partitions under a Hive-style tree.
type Store struct {
	paths pathing.Builder
	log   zerolog.Logger
}

// New creates a Store rooted at the given pathing.Builder.
func New(paths pathing.Builder, log zerolog.Logger) *Store {
	return &Store{paths: paths, log: log.With().Str("component", "partitioned_store").Logger()}
}

// Binding identifies the (market, source) a symbol+interval is routed to (spec.md §3).
type Binding struct {
	Market string
	Source string
}

// Save implements the write path from spec.md §4.5. An empty frame is a no-op: it must not
// create files.
func (s *Store) Save(binding Binding, symbol, interval string, frame model.BarFrame) error {
	if frame.Empty() {
		return nil
	}

	byMonth := partitionByMonth(frame.Rows)

	months := make([]monthKey, 0, len(byMonth))
	for k := range byMonth {
		months = append(months, k)
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].year != months[j].year {
			return months[i].year < months[j].year
		}
		return months[i].month < months[j].month
	})

	for _, mk := range months {
		if err := s.saveOnePartition(binding, symbol, interval, mk, byMonth[mk]); err != nil {
			return fmt.Errorf("save partition %d-%02d: %w", mk.year, mk.month, err)
		}
	}
	return nil
}

// saveOnePartition performs the read-merge-write-rename sequence for a single (year,
// month) partition. Every individual partition is crash-safe (spec.md §4.5 step 3); a
// crash between partitions simply leaves the remaining months unwritten until the next
// sweep re-fetches and re-merges them (spec.md §5 at-least-once semantics).
func (s *Store) saveOnePartition(binding Binding, symbol, interval string, mk monthKey, newRows []model.Bar) error {
	dir := s.paths.BarPartitionDir(binding.Market, binding.Source, interval, symbol, mk.year, mk.month)
	file := s.paths.BarPartitionFile(binding.Market, binding.Source, interval, symbol, mk.year, mk.month)
	return s.writePartition(dir, file, newRows)
}

// writePartition performs the read-merge-write-rename sequence against an explicit
// directory/file pair, shared by the active write path and the migration engine's staging
// write path (spec.md §4.9 step 2 uses "the same write semantics as §4.5").
func (s *Store) writePartition(dir, file string, newRows []model.Bar) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	existing, err := s.readPartitionFile(file)
	if err != nil {
		return err
	}

	merged := model.MergeBars(existing, newRows)

	tmp, err := os.CreateTemp(dir, "data-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	writer := parquet.NewGenericWriter[model.Bar](tmp)
	if _, err := writer.Write(merged); err != nil {
		tmp.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, file); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	syncDir(dir)

	return nil
}

// SaveStaging writes frame under the migration engine's staging tree for one symbol's
// partitions, using the identical merge/atomic-rename discipline as the active write path
// (spec.md §4.9 step 2). It never touches the active tree.
func (s *Store) SaveStaging(binding Binding, symbol, interval string, frame model.BarFrame) error {
	if frame.Empty() {
		return nil
	}
	byMonth := partitionByMonth(frame.Rows)
	for mk, rows := range byMonth {
		dir := s.paths.StagingBarPartitionDir(binding.Market, binding.Source, interval, symbol, mk.year, mk.month)
		file := s.paths.StagingBarPartitionFile(binding.Market, binding.Source, interval, symbol, mk.year, mk.month)
		if err := s.writePartition(dir, file, rows); err != nil {
			return fmt.Errorf("save staging partition %d-%02d: %w", mk.year, mk.month, err)
		}
	}
	return nil
}

// ReadStaging reads every partition written to the staging tree for one symbol, the same
// glob-and-concatenate shape as Read.
func (s *Store) ReadStaging(binding Binding, symbol, interval string) (model.BarFrame, error) {
	root := s.paths.StagingTickerRoot(binding.Market, binding.Source, interval, symbol)
	files, err := globDataFiles(root)
	if err != nil {
		return model.BarFrame{}, fmt.Errorf("glob staging partitions: %w", err)
	}
	var all []model.Bar
	for _, f := range files {
		rows, err := s.readPartitionFile(f)
		if err != nil {
			return model.BarFrame{}, err
		}
		all = append(all, rows...)
	}
	frame := model.BarFrame{Symbol: symbol, Interval: interval, Rows: all}
	frame.SortByTimestamp()
	return frame, nil
}

// ActivateStaging atomically renames one symbol's staged partition subtree into the active
// path, the commit point for spec.md §4.9 step 4. The active parent directory
// is created first so the rename target always has a home; if a symbol is migrated twice
// (e.g. a retried batch) the prior active subtree is replaced wholesale.
func (s *Store) ActivateStaging(binding Binding, symbol, interval string) error {
	staged := s.paths.StagingTickerRoot(binding.Market, binding.Source, interval, symbol)
	active := s.paths.BarSymbolRoot(binding.Market, binding.Source, interval, symbol)

	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("stat staged tree %s: %w", staged, err)
	}
	if err := os.MkdirAll(filepath.Dir(active), 0o755); err != nil {
		return fmt.Errorf("mkdir active parent %s: %w", filepath.Dir(active), err)
	}
	if _, err := os.Stat(active); err == nil {
		if err := os.RemoveAll(active); err != nil {
			return fmt.Errorf("remove prior active tree %s: %w", active, err)
		}
	}
	if err := os.Rename(staged, active); err != nil {
		return fmt.Errorf("activate %s -> %s: %w", staged, active, err)
	}
	syncDir(filepath.Dir(active))
	return nil
}

// Read implements the read path from spec.md §4.5: glob the symbol's partition subtree,
// concatenate in timestamp order, optionally filter to [rangeStart, rangeEnd).
func (s *Store) Read(binding Binding, symbol, interval string, rangeStart, rangeEnd *time.Time) (model.BarFrame, error) {
	root := s.paths.BarSymbolRoot(binding.Market, binding.Source, interval, symbol)

	files, err := globDataFiles(root)
	if err != nil {
		return model.BarFrame{}, fmt.Errorf("glob partitions: %w", err)
	}

	var all []model.Bar
	for _, f := range files {
		rows, err := s.readPartitionFile(f)
		if err != nil {
			return model.BarFrame{}, err
		}
		all = append(all, rows...)
	}

	frame := model.BarFrame{Symbol: symbol, Interval: interval, Rows: all}
	frame.SortByTimestamp()

	if rangeStart != nil || rangeEnd != nil {
		filtered := frame.Rows[:0:0]
		for _, r := range frame.Rows {
			if rangeStart != nil && r.Timestamp.Before(*rangeStart) {
				continue
			}
			if rangeEnd != nil && !r.Timestamp.Before(*rangeEnd) {
				continue
			}
			filtered = append(filtered, r)
		}
		frame.Rows = filtered
	}

	return frame, nil
}

// readPartitionFile reads one partition's data file, applying the corruption-on-read-delete
// policy from spec.md §4.5/§7: a file that fails to parse is deleted and treated as empty,
// never surfaced as an error to the caller.
func (s *Store) readPartitionFile(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	rows, readErr := readAllBars(f, info.Size())
	if readErr != nil {
		s.log.Warn().Err(readErr).Str("path", path).Msg("corrupt bar partition, deleting and treating as empty")
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Error().Err(rmErr).Str("path", path).Msg("failed to delete corrupt partition file")
		}
		return nil, nil
	}
	return rows, nil
}

func readAllBars(f *os.File, size int64) ([]model.Bar, error) {
	if size == 0 {
		return nil, nil
	}
	reader := parquet.NewGenericReader[model.Bar](f)
	defer reader.Close()

	rows := make([]model.Bar, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n == 0 {
		return nil, err
	}
	return rows[:n], nil
}

type monthKey struct {
	year  int
	month time.Month
}

// partitionByMonth buckets rows by the UTC-naïve (year, month) of their timestamp, per
// spec.md §4.5's canonical-zone partition assignment rule.
func partitionByMonth(rows []model.Bar) map[monthKey][]model.Bar {
	out := make(map[monthKey][]model.Bar)
	for _, r := range rows {
		k := monthKey{year: r.Timestamp.Year(), month: r.Timestamp.Month()}
		out[k] = append(out[k], r)
	}
	return out
}

func globDataFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && filepath.Base(path) == "data."+pathing.Ext {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files) // ticker=.../year=YYYY/month=MM sorts lexically into chronological order
	return files, nil
}

// syncDir best-effort fsyncs a directory so the rename above is durable on platforms that
// require it. Not all platforms support opening a directory for Sync; errors are ignored,
// matching the "best-effort" language in spec.md §4.5.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
