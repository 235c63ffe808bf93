// Package pathing builds and parses the filesystem layout described in spec.md §3/§6:
// the Hive-style partitioned tree and the flat legacy layout.
package pathing

import (
	"fmt"
	"path/filepath"
	"time"
)

// Ext is the on-disk extension for columnar partition files.
const Ext = "parquet"

// Builder resolves paths rooted at a single working directory.
type Builder struct {
	Root string
}

// New creates a Builder rooted at root.
func New(root string) Builder { return Builder{Root: root} }

// LegacyBarFile returns the pre-migration flat layout: root/stocks_<interval>/<SYM>.<ext>.
func (b Builder) LegacyBarFile(interval, symbol string) string {
	return filepath.Join(b.Root, "stocks_"+interval, symbol+"."+Ext)
}

// RelocatedLegacyBarFile returns the post-relocation legacy path used once a migration is
// in flight: root/legacy/stocks_<interval>/<SYM>.<ext>.
func (b Builder) RelocatedLegacyBarFile(interval, symbol string) string {
	return filepath.Join(b.Root, "legacy", "stocks_"+interval, symbol+"."+Ext)
}

// LegacyIntervalDir returns the pre-relocation directory holding every symbol file for one
// interval: root/stocks_<interval>/.
func (b Builder) LegacyIntervalDir(interval string) string {
	return filepath.Join(b.Root, "stocks_"+interval)
}

// RelocatedLegacyIntervalDir returns the post-relocation directory the migration engine
// reads symbols from: root/legacy/stocks_<interval>/.
func (b Builder) RelocatedLegacyIntervalDir(interval string) string {
	return filepath.Join(b.Root, "legacy", "stocks_"+interval)
}

// BarPartitionDir returns the Hive partition directory for one (market, source, interval,
// symbol, year, month): root/<market>/<source>/stocks_<interval>/ticker=<SYM>/year=<YYYY>/month=<MM>/
func (b Builder) BarPartitionDir(market, source, interval, symbol string, year int, month time.Month) string {
	return filepath.Join(
		b.Root, market, source, "stocks_"+interval,
		fmt.Sprintf("ticker=%s", symbol),
		fmt.Sprintf("year=%04d", year),
		fmt.Sprintf("month=%02d", int(month)),
	)
}

// BarPartitionFile appends the data file name to a partition directory.
func (b Builder) BarPartitionFile(market, source, interval, symbol string, year int, month time.Month) string {
	return filepath.Join(b.BarPartitionDir(market, source, interval, symbol, year, month), "data."+Ext)
}

// BarSymbolRoot returns the directory under which every partition for one symbol+interval
// lives, used by PartitionedStore.read to glob the full history.
func (b Builder) BarSymbolRoot(market, source, interval, symbol string) string {
	return filepath.Join(b.Root, market, source, "stocks_"+interval, fmt.Sprintf("ticker=%s", symbol))
}

// TradePartitionDir returns the Hive partition directory for one (market, source, venue,
// year, month, day): root/<market>/<source>/trades/venue=<V>/year=<YYYY>/month=<MM>/day=<DD>/
func (b Builder) TradePartitionDir(market, source, venue string, year int, month time.Month, day int) string {
	return filepath.Join(
		b.Root, market, source, "trades",
		fmt.Sprintf("venue=%s", venue),
		fmt.Sprintf("year=%04d", year),
		fmt.Sprintf("month=%02d", int(month)),
		fmt.Sprintf("day=%02d", day),
	)
}

// TradePartitionFile appends the data file name to a trade partition directory.
func (b Builder) TradePartitionFile(market, source, venue string, year int, month time.Month, day int) string {
	return filepath.Join(b.TradePartitionDir(market, source, venue, year, month, day), "trades."+Ext)
}

// StagingRoot returns the migration engine's transient staging tree:
// root/.migration-staging/<market>/<source>/
func (b Builder) StagingRoot(market, source string) string {
	return filepath.Join(b.Root, ".migration-staging", market, source)
}

// ActiveBarRoot returns root/<market>/<source>/stocks_<interval> — the directory the
// staging tree's stocks_<interval> subtree is renamed into on activation.
func (b Builder) ActiveBarRoot(market, source, interval string) string {
	return filepath.Join(b.Root, market, source, "stocks_"+interval)
}

// StagingBarRoot mirrors ActiveBarRoot inside the staging tree.
func (b Builder) StagingBarRoot(market, source, interval string) string {
	return filepath.Join(b.StagingRoot(market, source), "stocks_"+interval)
}

// StagingTickerRoot returns one symbol's staged partition subtree, the unit the migration
// engine renames atomically into place on activation (spec.md §4.9 step 4).
func (b Builder) StagingTickerRoot(market, source, interval, symbol string) string {
	return filepath.Join(b.StagingBarRoot(market, source, interval), fmt.Sprintf("ticker=%s", symbol))
}

// StagingBarPartitionDir mirrors BarPartitionDir inside the staging tree.
func (b Builder) StagingBarPartitionDir(market, source, interval, symbol string, year int, month time.Month) string {
	return filepath.Join(
		b.StagingTickerRoot(market, source, interval, symbol),
		fmt.Sprintf("year=%04d", year),
		fmt.Sprintf("month=%02d", int(month)),
	)
}

// StagingBarPartitionFile appends the data file name to a staging partition directory.
func (b Builder) StagingBarPartitionFile(market, source, interval, symbol string, year int, month time.Month) string {
	return filepath.Join(b.StagingBarPartitionDir(market, source, interval, symbol, year, month), "data."+Ext)
}
