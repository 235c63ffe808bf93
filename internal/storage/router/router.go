// Package router implements the StorageRouter from spec.md §4.6: it resolves which backend
// owns a given (symbol, interval) and composes the legacy and partitioned stores behind a
// single Read/Save surface, including the legacy-fallback-on-empty-partitioned-read rule
// that lets the two layouts coexist indefinitely during a migration.
//
// The precedence chain mirrors this codebase's settings-override-env style in
// internal/config/config.go: the most specific override wins.
package router

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerfeed/internal/config"
	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/storage/legacy"
	"github.com/aristath/tickerfeed/internal/storage/partitioned"
)

// Backend names the storage layout a (symbol, interval) is bound to.
type Backend string

const (
	Legacy      Backend = "legacy"
	Partitioned Backend = "partitioned"
)

// Binding identifies the (market, source) a symbol is routed under, shared with the
// partitioned store's own Binding type.
type Binding struct {
	Market string
	Source string
}

func (b Binding) toPartitioned() partitioned.Binding {
	return partitioned.Binding{Market: b.Market, Source: b.Source}
}

// IntervalOverride is the optional per-symbol-interval binding recorded on a registry entry
// (spec.md §3's IntervalState.storage). A nil override falls through to StorageConfig.
type IntervalOverride struct {
	Backend Backend
}

// Router composes the legacy and partitioned stores behind a single backend-resolution
// surface.
type Router struct {
	legacy      *legacy.Store
	partitioned *partitioned.Store
	cfg         *config.Store
	log         zerolog.Logger
}

// New creates a Router. Whether legacy reads/writes use the pre- or post-migration flat-file
// path (spec.md §6) is fixed by how legacyStore was constructed.
func New(cfgStore *config.Store, legacyStore *legacy.Store, partitionedStore *partitioned.Store, log zerolog.Logger) *Router {
	return &Router{
		legacy:      legacyStore,
		partitioned: partitionedStore,
		cfg:         cfgStore,
		log:         log.With().Str("component", "storage_router").Logger(),
	}
}

// resolve implements the precedence chain from spec.md §4.6:
//  1. the symbol-interval's own override, if set
//  2. the per-(market,source) entry in storage_config.json
//  3. storage_config.json's global default
//  4. legacy, if the stored global default is empty
func (r *Router) resolve(binding Binding, override *IntervalOverride) (Backend, error) {
	if override != nil && override.Backend != "" {
		return override.Backend, nil
	}

	sc, err := r.cfg.LoadStorageConfig()
	if err != nil {
		return "", fmt.Errorf("load storage config: %w", err)
	}

	if entry, ok := sc.PerSource[config.Key(binding.Market, binding.Source)]; ok && entry.Backend != "" {
		return Backend(entry.Backend), nil
	}
	if sc.Global != "" {
		return Backend(sc.Global), nil
	}
	return Legacy, nil
}

// Read resolves the backend for (symbol, interval) and returns its bars. When the resolved
// backend is partitioned and the partitioned read is empty, Read additionally attempts a
// legacy-location read — this is the coexistence rule from spec.md §4.6: a symbol can be
// switched to partitioned storage before any partitioned data has been written for it
// without losing access to its legacy history.
func (r *Router) Read(binding Binding, symbol, interval string, override *IntervalOverride) (model.BarFrame, error) {
	backend, err := r.resolve(binding, override)
	if err != nil {
		return model.BarFrame{}, err
	}

	if backend == Legacy {
		return r.legacy.Read(interval, symbol)
	}

	frame, err := r.partitioned.Read(binding.toPartitioned(), symbol, interval, nil, nil)
	if err != nil {
		return model.BarFrame{}, err
	}
	if !frame.Empty() {
		return frame, nil
	}

	r.log.Debug().Str("symbol", symbol).Str("interval", interval).
		Msg("partitioned read empty, falling back to legacy location")
	return r.legacy.Read(interval, symbol)
}

// Save resolves the backend for (symbol, interval) and writes frame to it. Save never
// writes to both backends: once a symbol-interval is bound to partitioned storage, new rows
// land only there, and the legacy file is left as a static archive until migrated (spec.md
// §4.6, §4.7).
func (r *Router) Save(binding Binding, symbol, interval string, frame model.BarFrame, override *IntervalOverride) error {
	backend, err := r.resolve(binding, override)
	if err != nil {
		return err
	}

	if backend == Legacy {
		return r.legacy.Save(interval, symbol, frame)
	}
	return r.partitioned.Save(binding.toPartitioned(), symbol, interval, frame)
}
