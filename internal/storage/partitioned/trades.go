package partitioned

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/aristath/tickerfeed/internal/model"
)

type dayKey struct {
	year  int
	month time.Month
	day   int
}

// SaveTrades partitions incoming trade rows by (year, month, day) of TradeTime and applies
// the same merge/dedup/atomic-rename discipline as bar partitions, keyed on the
// (trans_id, tick_id) composite (see DESIGN.md's Open Question resolution).
func (s *Store) SaveTrades(binding Binding, venue string, frame model.TradeFrame) error {
	if frame.Empty() {
		return nil
	}

	byDay := make(map[dayKey][]model.Trade)
	for _, r := range frame.Rows {
		k := dayKey{year: r.TradeTime.Year(), month: r.TradeTime.Month(), day: r.TradeTime.Day()}
		byDay[k] = append(byDay[k], r)
	}

	days := make([]dayKey, 0, len(byDay))
	for k := range byDay {
		days = append(days, k)
	}
	sort.Slice(days, func(i, j int) bool {
		di, dj := days[i], days[j]
		if di.year != dj.year {
			return di.year < dj.year
		}
		if di.month != dj.month {
			return di.month < dj.month
		}
		return di.day < dj.day
	})

	for _, dk := range days {
		if err := s.saveOneTradePartition(binding, venue, dk, byDay[dk]); err != nil {
			return fmt.Errorf("save trade partition %d-%02d-%02d: %w", dk.year, dk.month, dk.day, err)
		}
	}
	return nil
}

func (s *Store) saveOneTradePartition(binding Binding, venue string, dk dayKey, newRows []model.Trade) error {
	dir := s.paths.TradePartitionDir(binding.Market, binding.Source, venue, dk.year, dk.month, dk.day)
	file := s.paths.TradePartitionFile(binding.Market, binding.Source, venue, dk.year, dk.month, dk.day)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	existing, err := s.readTradePartitionFile(file)
	if err != nil {
		return err
	}
	merged := model.MergeTrades(existing, newRows)

	tmp, err := os.CreateTemp(dir, "trades-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := parquet.NewGenericWriter[model.Trade](tmp)
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

// ReadTrades reads every partition for one venue+day, applying the same corruption-delete
// policy as bar reads.
func (s *Store) ReadTrades(binding Binding, venue string, date time.Time) (model.TradeFrame, error) {
	file := s.paths.TradePartitionFile(binding.Market, binding.Source, venue, date.Year(), date.Month(), date.Day())
	rows, err := s.readTradePartitionFile(file)
	if err != nil {
		return model.TradeFrame{}, err
	}
	return model.TradeFrame{Venue: venue, Date: date, Rows: rows}, nil
}

func (s *Store) readTradePartitionFile(path string) ([]model.Trade, error) {
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
	if info.Size() == 0 {
		return nil, nil
	}

	reader := parquet.NewGenericReader[model.Trade](f)
	defer reader.Close()

	rows := make([]model.Trade, reader.NumRows())
	n, readErr := reader.Read(rows)
	if readErr != nil && n == 0 {
		s.log.Warn().Err(readErr).Str("path", path).Msg("corrupt trade partition, deleting and treating as empty")
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Error().Err(rmErr).Str("path", path).Msg("failed to delete corrupt trade partition file")
		}
		return nil, nil
	}
	return rows[:n], nil
}
