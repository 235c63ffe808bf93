// Package migration implements the MigrationEngine from spec.md §4.9: a state machine,
// persisted as migration_plan.json, that copies the legacy flat layout into the
// Hive-partitioned layout via a staging tree, verifies row counts and checksums, and
// activates only by flipping metadata.
//
// The staging -> verify -> activate shape follows a staged backup flow: staging directory,
// per-file SHA-256 checksum, metadata manifest, tiered rotate/verify; plan persistence reuses
// internal/config's temp-file-then-rename discipline.
package migration

import (
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tickerfeed/internal/config"
)

// PlanFile is the document name under the working directory (spec.md §6).
const PlanFile = "migration_plan.json"

// PlanVersion is the constant schema version stamped on every plan (spec.md §6).
const PlanVersion = "1.0"

// Status is an interval's progress within one migration plan.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// IntervalPlan tracks one (venue, interval)'s migration progress (spec.md §3).
type IntervalPlan struct {
	Name             string     `json:"name"`
	Status           Status     `json:"status"`
	SymbolsTotal     int        `json:"symbols_total,omitempty"`
	SymbolsMigrated  int        `json:"symbols_migrated"`
	MigratedSymbols  []string   `json:"migrated_symbols,omitempty"` // resume set; spec.md leaves resume's exact bookkeeping unspecified
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	ChecksumVerified bool       `json:"checksum_verified,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	ArchiveChecksum  string     `json:"archive_checksum,omitempty"`
}

func (ip *IntervalPlan) hasMigrated(symbol string) bool {
	for _, s := range ip.MigratedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (ip *IntervalPlan) markMigrated(symbol string) {
	if ip.hasMigrated(symbol) {
		return
	}
	ip.MigratedSymbols = append(ip.MigratedSymbols, symbol)
	ip.SymbolsMigrated = len(ip.MigratedSymbols)
}

// Venue is one (market, source) pair's set of in-flight interval migrations.
type Venue struct {
	Market    string         `json:"market"`
	Source    string         `json:"source"`
	Intervals []IntervalPlan `json:"intervals"`
}

// Plan is the sole authority for in-flight migration state.
type Plan struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Venues    []Venue   `json:"venues"`
}

func venueKey(market, source string) string { return market + ":" + source }

// findVenue returns a pointer to the plan's entry for (market, source), or nil.
func (p *Plan) findVenue(market, source string) *Venue {
	for i := range p.Venues {
		if p.Venues[i].Market == market && p.Venues[i].Source == source {
			return &p.Venues[i]
		}
	}
	return nil
}

// findInterval returns a pointer to one venue's interval entry, or nil.
func (v *Venue) findInterval(name string) *IntervalPlan {
	for i := range v.Intervals {
		if v.Intervals[i].Name == name {
			return &v.Intervals[i]
		}
	}
	return nil
}

// loadPlan reads migration_plan.json, returning (nil, nil) if no migration is in flight.
func loadPlan(store *config.Store) (*Plan, error) {
	var p Plan
	ok, err := store.LoadJSON(PlanFile, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// savePlan atomically rewrites migration_plan.json.
func savePlan(store *config.Store, p *Plan) error {
	return store.SaveJSON(PlanFile, p)
}

// newPlanID generates a fresh plan identifier.
func newPlanID() string { return uuid.NewString() }
