// Package legacy implements the flat pre-migration per-(interval, symbol) layout
// (spec.md §4.4), sharing the merge/corruption semantics of the partitioned store but with
// a single file per symbol instead of a Hive tree.
package legacy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/pathing"
)

// Store reads and writes the flat legacy layout.
type Store struct {
	paths     pathing.Builder
	relocated bool // true once migration has moved stocks_<interval>/ under legacy/
	log       zerolog.Logger
}

// New creates a Store. relocated selects between root/stocks_<interval>/ and
// root/legacy/stocks_<interval>/ (spec.md §6); a migration in flight sets this true.
func New(paths pathing.Builder, relocated bool, log zerolog.Logger) *Store {
	return &Store{paths: paths, relocated: relocated, log: log.With().Str("component", "legacy_store").Logger()}
}

func (s *Store) path(interval, symbol string) string {
	if s.relocated {
		return s.paths.RelocatedLegacyBarFile(interval, symbol)
	}
	return s.paths.LegacyBarFile(interval, symbol)
}

// Read returns the symbol's bar frame, or an empty frame if the file is missing. On
// corruption the file is deleted and an empty frame is returned (spec.md §4.4).
func (s *Store) Read(interval, symbol string) (model.BarFrame, error) {
	path := s.path(interval, symbol)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.BarFrame{Symbol: symbol, Interval: interval}, nil
		}
		return model.BarFrame{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.BarFrame{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return model.BarFrame{Symbol: symbol, Interval: interval}, nil
	}

	reader := parquet.NewGenericReader[model.Bar](f)
	rows := make([]model.Bar, reader.NumRows())
	n, readErr := reader.Read(rows)
	closeErr := reader.Close()

	if readErr != nil && n == 0 {
		s.log.Warn().Err(readErr).Str("path", path).Msg("corrupt legacy file, deleting and treating as empty")
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Error().Err(rmErr).Str("path", path).Msg("failed to delete corrupt legacy file")
		}
		return model.BarFrame{Symbol: symbol, Interval: interval}, nil
	}
	if closeErr != nil {
		return model.BarFrame{}, fmt.Errorf("close reader for %s: %w", path, closeErr)
	}

	frame := model.BarFrame{Symbol: symbol, Interval: interval, Rows: rows[:n]}
	frame.SortByTimestamp()
	return frame, nil
}

// Save merges new_frame into the existing file with the same dedup-by-timestamp semantics
// as the partitioned store (spec.md §4.4), committed via temp-file + rename.
func (s *Store) Save(interval, symbol string, newFrame model.BarFrame) error {
	if newFrame.Empty() {
		return nil
	}

	existing, err := s.Read(interval, symbol)
	if err != nil {
		return err
	}
	merged := model.MergeBars(existing.Rows, newFrame.Rows)

	path := s.path(interval, symbol)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, symbol+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

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
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
