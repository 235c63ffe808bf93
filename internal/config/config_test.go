package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerfeed/internal/clock"
)

func TestSaveLoadIntervals(t *testing.T) {
	store, err := New(t.TempDir(), clock.Real{})
	require.NoError(t, err)

	require.NoError(t, store.SaveIntervals([]string{"1d", "1h"}))

	got, err := store.LoadIntervals()
	require.NoError(t, err)
	require.Equal(t, []string{"1d", "1h"}, got)
}

func TestLoadIntervals_MissingFileReturnsEmpty(t *testing.T) {
	store, err := New(t.TempDir(), clock.Real{})
	require.NoError(t, err)

	got, err := store.LoadIntervals()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLoadStorageConfig_MissingFileReturnsDefault(t *testing.T) {
	store, err := New(t.TempDir(), clock.Real{})
	require.NoError(t, err)

	got, err := store.LoadStorageConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultStorageConfig(), got)
}

func TestSaveLoadStorageConfig_RoundTrip(t *testing.T) {
	store, err := New(t.TempDir(), clock.Real{})
	require.NoError(t, err)

	cfg := StorageConfig{
		Global: "legacy",
		PerSource: map[string]SourceOverride{
			Key("us", "yahoo"): {Backend: "partitioned"},
		},
	}
	require.NoError(t, store.SaveStorageConfig(cfg))

	got, err := store.LoadStorageConfig()
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestSaveJSON_AtomicRename_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, clock.Real{})
	require.NoError(t, err)

	require.NoError(t, store.SaveJSON("migration_plan.json", map[string]string{"status": "idle"}))

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, entries, "no temp files should remain after a successful save")
}

func TestRemoveJSON_MissingFileIsNotAnError(t *testing.T) {
	store, err := New(t.TempDir(), clock.Real{})
	require.NoError(t, err)

	require.NoError(t, store.RemoveJSON("migration_plan.json"))
}
