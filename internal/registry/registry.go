// Package registry implements the SymbolRegistry from spec.md §4.7: an in-memory
// map[symbol]*Record guarded by a mutex, persisted to tickers.json via internal/config, with
// snapshot reads returning symbols in stable, sorted order.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/tickerfeed/internal/clock"
	"github.com/aristath/tickerfeed/internal/config"
)

const (
	tickersFile = "tickers.json"

	// DefaultReactivationHorizonDays is how recent last_found_date must be for a not_found
	// symbol to be reactivated by refresh_current_list (spec.md §4.7).
	DefaultReactivationHorizonDays = 90
	// DefaultCooldownDays is how long an interval stays skipped after a not_found result
	// (spec.md §4.7).
	DefaultCooldownDays = 30
)

// Status is the active/not_found lifecycle state shared by symbols and intervals.
type Status string

const (
	Active   Status = "active"
	NotFound Status = "not_found"
)

// StorageBinding pins a symbol-interval to a specific backend and (market, source); an
// absent binding defers to StorageRouter's config-driven precedence (spec.md §3).
type StorageBinding struct {
	Backend string `json:"backend"`
	Market  string `json:"market"`
	Source  string `json:"source"`
}

// IntervalState is one symbol's lifecycle state for a single interval (spec.md §3).
type IntervalState struct {
	Status           Status          `json:"status"`
	LastFoundDate    string          `json:"last_found_date,omitempty"`
	LastDataDate     string          `json:"last_data_date,omitempty"`
	LastChecked      string          `json:"last_checked,omitempty"`
	LastNotFoundDate string          `json:"last_not_found_date,omitempty"`
	Storage          *StorageBinding `json:"storage,omitempty"`
}

// Record is one symbol's full registry entry (spec.md §3's Symbol + interval map).
type Record struct {
	Ticker      string                   `json:"ticker"`
	Status      Status                   `json:"status"`
	AddedDate   string                   `json:"added_date"`
	LastChecked string                   `json:"last_checked"`
	Intervals   map[string]IntervalState `json:"intervals"`
}

// Outcome classifies the result of one fetch attempt, fed to UpdateIntervalStatus.
type Outcome int

const (
	Found Outcome = iota
	NotFoundOutcome
	TransientError
)

// Config holds the reactivation horizon and cooldown window as explicit settings, per
// spec.md's Open Questions note that they "must be exposed as configuration, not baked in."
type Config struct {
	ReactivationHorizon time.Duration
	Cooldown            time.Duration
}

// DefaultConfig returns the documented defaults (90 days / 30 days).
func DefaultConfig() Config {
	return Config{
		ReactivationHorizon: DefaultReactivationHorizonDays * 24 * time.Hour,
		Cooldown:            DefaultCooldownDays * 24 * time.Hour,
	}
}

const dateLayout = "2006-01-02"

// Registry is the in-memory symbol table. Mutations are synchronous and lock-protected;
// persistence is explicit via Save, matching the "deferred, called at end of sweep" policy
// in spec.md §4.7.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]*Record

	cfg   *config.Store
	clock clock.Clock
	rules Config
}

// New creates an empty Registry. Call Load to populate it from tickers.json.
func New(cfgStore *config.Store, c clock.Clock, rules Config) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{symbols: make(map[string]*Record), cfg: cfgStore, clock: c, rules: rules}
}

// Load reads tickers.json into the in-memory map, replacing any prior contents.
func (r *Registry) Load() error {
	var snapshot map[string]*Record
	ok, err := r.cfg.LoadJSON(tickersFile, &snapshot)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok || snapshot == nil {
		snapshot = make(map[string]*Record)
	}
	r.symbols = snapshot
	return nil
}

// Save atomically rewrites tickers.json with the current in-memory state.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.SaveJSON(tickersFile, r.symbols)
}

// Snapshot returns all symbol identifiers in stable, alphabetically sorted order (spec.md
// §4.8's "tie-break: alphabetical").
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for sym := range r.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of one symbol's record, or false if unknown.
func (r *Registry) Get(symbol string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.symbols[symbol]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// RefreshCurrentList union-merges newSymbols into the registry (spec.md §4.7):
// newly observed symbols are inserted active; symbols previously not_found whose
// last_found_date (on any interval) is within the reactivation horizon are reactivated.
func (r *Registry) RefreshCurrentList(newSymbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.clock.Now().Format(dateLayout)
	for _, sym := range newSymbols {
		rec, exists := r.symbols[sym]
		if !exists {
			r.symbols[sym] = &Record{
				Ticker:      sym,
				Status:      Active,
				AddedDate:   today,
				LastChecked: today,
				Intervals:   make(map[string]IntervalState),
			}
			continue
		}
		if rec.Status == NotFound && r.hasRecentFind(rec) {
			rec.Status = Active
		}
	}
}

func (r *Registry) hasRecentFind(rec *Record) bool {
	cutoff := r.clock.Now().Add(-r.rules.ReactivationHorizon)
	for _, iv := range rec.Intervals {
		if t, err := time.Parse(dateLayout, iv.LastFoundDate); err == nil && t.After(cutoff) {
			return true
		}
	}
	return false
}

// IsActiveForInterval reports whether symbol is eligible for a fetch attempt on interval:
// the symbol must be globally active, and the interval must not be in cooldown (spec.md
// §4.7): cooldown applies per interval, independent of global status.
func (r *Registry) IsActiveForInterval(symbol, interval string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.symbols[symbol]
	if !ok || rec.Status != Active {
		return false
	}
	iv, ok := rec.Intervals[interval]
	if !ok {
		return true // no attempt yet, not in cooldown
	}
	if iv.Status != NotFound || iv.LastNotFoundDate == "" {
		return true
	}
	lastNotFound, err := time.Parse(dateLayout, iv.LastNotFoundDate)
	if err != nil {
		return true
	}
	return r.clock.Now().After(lastNotFound.Add(r.rules.Cooldown))
}

// Binding returns the interval's explicit storage binding, if any.
func (r *Registry) Binding(symbol, interval string) (StorageBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.symbols[symbol]
	if !ok {
		return StorageBinding{}, false
	}
	iv, ok := rec.Intervals[interval]
	if !ok || iv.Storage == nil {
		return StorageBinding{}, false
	}
	return *iv.Storage, true
}

// SetBinding pins (symbol, interval) to an explicit storage backend, used by the migration
// engine on successful activation.
func (r *Registry) SetBinding(symbol, interval string, binding StorageBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.symbols[symbol]
	if !ok {
		return
	}
	iv := rec.Intervals[interval]
	b := binding
	iv.Storage = &b
	rec.Intervals[interval] = iv
}

// ClearBinding removes (symbol, interval)'s explicit storage binding, reverting it to
// whatever StorageRouter's config-driven precedence resolves (spec.md §4.9 rollback:
// "revert registry bindings for that (venue, interval) to legacy").
func (r *Registry) ClearBinding(symbol, interval string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.symbols[symbol]
	if !ok {
		return
	}
	iv, ok := rec.Intervals[interval]
	if !ok {
		return
	}
	iv.Storage = nil
	rec.Intervals[interval] = iv
}

// UpdateIntervalStatus applies one fetch outcome to (symbol, interval), per spec.md §4.7's
// three-way outcome table. lastDataDate is only meaningful for Found.
func (r *Registry) UpdateIntervalStatus(symbol, interval string, outcome Outcome, lastDataDate time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.symbols[symbol]
	if !ok {
		return
	}
	now := r.clock.Now()
	today := now.Format(dateLayout)
	iv := rec.Intervals[interval]

	switch outcome {
	case Found:
		iv.Status = Active
		iv.LastFoundDate = today
		iv.LastDataDate = lastDataDate.Format(dateLayout)
		iv.LastChecked = today
	case NotFoundOutcome:
		iv.Status = NotFound
		iv.LastNotFoundDate = today
		iv.LastChecked = today
	case TransientError:
		iv.LastChecked = today
	}
	rec.Intervals[interval] = iv

	if outcome == NotFoundOutcome && r.allIntervalsNotFound(rec) {
		rec.Status = NotFound
	}
	rec.LastChecked = today
}

// allIntervalsNotFound requires every configured interval to be not_found before promoting
// the global status, per the Open Question resolution in DESIGN.md: partial not_found never
// demotes a symbol globally. The configured intervals come from intervals.json; when that
// is missing or empty, the record's own intervals stand in for them.
func (r *Registry) allIntervalsNotFound(rec *Record) bool {
	configured, err := r.cfg.LoadIntervals()
	if err != nil || len(configured) == 0 {
		configured = nil
		for name := range rec.Intervals {
			configured = append(configured, name)
		}
	}
	if len(configured) == 0 {
		return false
	}
	for _, name := range configured {
		if iv, ok := rec.Intervals[name]; !ok || iv.Status != NotFound {
			return false
		}
	}
	return true
}

// ConfirmNotFounds iterates globally not_found symbols and issues a short probe at the
// coarsest configured interval; any nonempty result reactivates the symbol globally
// (spec.md §4.7). probe returns whether data was found for (symbol, interval).
func (r *Registry) ConfirmNotFounds(coarsestInterval string, probe func(symbol string) (found bool, lastData time.Time)) {
	for _, sym := range r.notFoundSymbols() {
		found, lastData := probe(sym)
		if !found {
			continue
		}
		r.mu.Lock()
		if rec, ok := r.symbols[sym]; ok {
			rec.Status = Active
			iv := rec.Intervals[coarsestInterval]
			iv.Status = Active
			iv.LastFoundDate = lastData.Format(dateLayout)
			iv.LastDataDate = lastData.Format(dateLayout)
			rec.Intervals[coarsestInterval] = iv
		}
		r.mu.Unlock()
	}
}

// ReparseNotFounds iterates not_found symbols and reactivates any whose last_data_date on
// any interval is newer than the reactivation horizon (spec.md §4.7).
func (r *Registry) ReparseNotFounds() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-r.rules.ReactivationHorizon)
	for _, rec := range r.symbols {
		if rec.Status != NotFound {
			continue
		}
		for _, iv := range rec.Intervals {
			t, err := time.Parse(dateLayout, iv.LastDataDate)
			if err == nil && t.After(cutoff) {
				rec.Status = Active
				break
			}
		}
	}
}

func (r *Registry) notFoundSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for sym, rec := range r.symbols {
		if rec.Status == NotFound {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
