// Package model defines the row-level schema shared by the fetcher, storage, and
// migration layers: OHLCV bars and raw per-trade records (spec.md §3).
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Bar is one OHLCV row. Timestamp is UTC-naïve (normalized by the fetcher per spec.md §4.3)
// and is the primary key within a given symbol+interval.
type Bar struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(microsecond)"`
	Open      float64   `parquet:"open"`
	High      float64   `parquet:"high"`
	Low       float64   `parquet:"low"`
	Close     float64   `parquet:"close"`
	Volume    float64   `parquet:"volume"`
	Dividends float64   `parquet:"dividends,optional"`
	Splits    float64   `parquet:"splits,optional"`
}

// BarFrame is an ordered sequence of Bar rows.
type BarFrame struct {
	Symbol   string
	Interval string
	Rows     []Bar
}

// Empty reports whether the frame carries no rows.
func (f BarFrame) Empty() bool { return len(f.Rows) == 0 }

// LastTimestamp returns the maximum timestamp in the frame, or the zero time if empty.
func (f BarFrame) LastTimestamp() time.Time {
	var max time.Time
	for _, r := range f.Rows {
		if r.Timestamp.After(max) {
			max = r.Timestamp
		}
	}
	return max
}

// SortByTimestamp sorts rows ascending by timestamp in place.
func (f *BarFrame) SortByTimestamp() {
	sort.Slice(f.Rows, func(i, j int) bool { return f.Rows[i].Timestamp.Before(f.Rows[j].Timestamp) })
}

// MergeBars implements the dedup-by-timestamp merge policy from spec.md §4.5: the later
// argument wins on a timestamp collision, and the result is sorted ascending by timestamp.
func MergeBars(existing, incoming []Bar) []Bar {
	byTS := make(map[time.Time]Bar, len(existing)+len(incoming))
	order := make([]time.Time, 0, len(existing)+len(incoming))

	for _, r := range existing {
		if _, ok := byTS[r.Timestamp]; !ok {
			order = append(order, r.Timestamp)
		}
		byTS[r.Timestamp] = r
	}
	for _, r := range incoming {
		if _, ok := byTS[r.Timestamp]; !ok {
			order = append(order, r.Timestamp)
		}
		byTS[r.Timestamp] = r // new wins on collision
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	merged := make([]Bar, 0, len(order))
	for _, ts := range order {
		merged = append(merged, byTS[ts])
	}
	return merged
}

// ChecksumBars computes a SHA-256 digest over rows canonically serialized in timestamp
// order, used by the migration engine to verify a staged partition tree against its source
// (spec.md §4.9 step 3). Rows are sorted by a copy before hashing so caller ordering never
// affects the result.
func ChecksumBars(rows []Bar) string {
	sorted := make([]Bar, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%d|%.8f|%.8f|%.8f|%.8f|%.8f|%.8f|%.8f\n",
			r.Timestamp.UnixNano(), r.Open, r.High, r.Low, r.Close, r.Volume, r.Dividends, r.Splits)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
