// Package config owns the working directory and the persisted JSON documents described in
// spec.md §4.1/§6: intervals.json, tickers.json, storage_config.json, and
// migration_plan.json. Every save is a temp-file-then-rename, mirroring the commit-or-
// rollback discipline this codebase applied to its settings database, applied here to plain
// files instead of a SQL transaction. Reads tolerate missing files by returning documented
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/aristath/tickerfeed/internal/clock"
)

// StorageConfig is the global + per-(market,source) backend-selection document
// (spec.md §3/§6).
type StorageConfig struct {
	Global    string                    `json:"global"` // "legacy" or "partitioned"
	PerSource map[string]SourceOverride `json:"per_source,omitempty"`
}

// SourceOverride is keyed by "<market>:<source>" in StorageConfig.PerSource.
type SourceOverride struct {
	Backend string `json:"backend"`
}

// DefaultStorageConfig returns the documented default: legacy everywhere.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{Global: "legacy", PerSource: map[string]SourceOverride{}}
}

// Key formats the (market, source) lookup key used in StorageConfig.PerSource.
func Key(market, source string) string { return market + ":" + source }

// Env holds process-level settings read once at startup, following this codebase's
// env-var-with-default convention (godotenv + os.Getenv).
type Env struct {
	DataDir  string // root of the working directory tree; resolved to an absolute path
	LogLevel string
}

// LoadEnv loads .env if present, then reads environment variables with defaults, resolving
// DataDir to an absolute path and creating it if necessary.
func LoadEnv(dataDirOverride string) (Env, error) {
	_ = godotenv.Load()

	dataDir := dataDirOverride
	if dataDir == "" {
		dataDir = getEnv("TICKERFEED_DATA_DIR", "")
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return Env{}, fmt.Errorf("resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return Env{}, fmt.Errorf("create data directory: %w", err)
	}

	return Env{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Store owns a working directory's persisted JSON documents.
type Store struct {
	Dir   string
	Clock clock.Clock
}

// New creates a Store rooted at dir, creating the directory if necessary.
func New(dir string, c clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory %s: %w", dir, err)
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Store{Dir: dir, Clock: c}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.Dir, name) }

// LoadIntervals reads intervals.json, returning an empty slice if the file is absent.
func (s *Store) LoadIntervals() ([]string, error) {
	var intervals []string
	ok, err := s.loadJSON("intervals.json", &intervals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return intervals, nil
}

// SaveIntervals atomically rewrites intervals.json.
func (s *Store) SaveIntervals(intervals []string) error {
	return s.saveJSON("intervals.json", intervals)
}

// LoadStorageConfig reads storage_config.json, returning DefaultStorageConfig() if absent.
func (s *Store) LoadStorageConfig() (StorageConfig, error) {
	var cfg StorageConfig
	ok, err := s.loadJSON("storage_config.json", &cfg)
	if err != nil {
		return StorageConfig{}, err
	}
	if !ok {
		return DefaultStorageConfig(), nil
	}
	if cfg.PerSource == nil {
		cfg.PerSource = map[string]SourceOverride{}
	}
	return cfg, nil
}

// SaveStorageConfig atomically rewrites storage_config.json.
func (s *Store) SaveStorageConfig(cfg StorageConfig) error {
	return s.saveJSON("storage_config.json", cfg)
}

// LoadJSON reads an arbitrary named document (used by the registry and migration engine,
// which own their own schemas) into v. It reports whether the file existed.
func (s *Store) LoadJSON(name string, v interface{}) (bool, error) {
	return s.loadJSON(name, v)
}

// SaveJSON atomically rewrites an arbitrary named document.
func (s *Store) SaveJSON(name string, v interface{}) error {
	return s.saveJSON(name, v)
}

// RemoveJSON deletes a named document, e.g. migration_plan.json once a migration is fully
// rolled back. Missing files are not an error.
func (s *Store) RemoveJSON(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (s *Store) loadJSON(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

// saveJSON writes to a sibling temp file within Dir, flushes, and renames over the target —
// atomic on the target filesystem (spec.md §4.1).
func (s *Store) saveJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.Dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("rename %s into place: %w", name, err)
	}
	return nil
}
