package partitioned

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerfeed/internal/model"
	"github.com/aristath/tickerfeed/internal/pathing"
)

func newTestStore(t *testing.T) (*Store, pathing.Builder) {
	t.Helper()
	root := t.TempDir()
	paths := pathing.New(root)
	return New(paths, zerolog.Nop()), paths
}

func bar(day string, open, close float64) model.Bar {
	ts, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return model.Bar{Timestamp: ts, Open: open, High: open, Low: close, Close: close, Volume: 100}
}

// TestSave_MergeDedup implements end-to-end scenario S1 (spec.md §8).
func TestSave_MergeDedup(t *testing.T) {
	store, _ := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}

	err := store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{
		bar("2025-01-02", 1, 1),
		bar("2025-01-03", 2, 2),
	}})
	require.NoError(t, err)

	err = store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{
		bar("2025-01-03", 2, 9),
		bar("2025-01-04", 3, 3),
	}})
	require.NoError(t, err)

	frame, err := store.Read(binding, "AAPL", "1d", nil, nil)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 3)
	require.Equal(t, 1.0, frame.Rows[0].Close)
	require.Equal(t, 9.0, frame.Rows[1].Close) // new wins on timestamp collision
	require.Equal(t, 3.0, frame.Rows[2].Close)

	// Monotone timestamps.
	for i := 1; i < len(frame.Rows); i++ {
		require.True(t, frame.Rows[i].Timestamp.After(frame.Rows[i-1].Timestamp))
	}
}

// TestRead_CorruptionRecovery covers the corruption-recovery scenario from spec.md §8.
func TestRead_CorruptionRecovery(t *testing.T) {
	store, paths := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}

	dir := paths.BarPartitionDir("us", "yahoo", "1d", "AAPL", 2025, time.January)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, "data."+pathing.Ext)
	require.NoError(t, os.WriteFile(file, []byte("not valid"), 0o644))

	frame, err := store.Read(binding, "AAPL", "1d", nil, nil)
	require.NoError(t, err)
	require.True(t, frame.Empty())

	_, statErr := os.Stat(file)
	require.True(t, os.IsNotExist(statErr), "corrupt partition file must be deleted")
}

// TestSave_EmptyFrameIsNoop covers the explicit edge case in spec.md §4.5.
func TestSave_EmptyFrameIsNoop(t *testing.T) {
	store, paths := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}

	require.NoError(t, store.Save(binding, "AAPL", "1d", model.BarFrame{}))

	root := paths.BarSymbolRoot("us", "yahoo", "1d", "AAPL")
	_, err := os.Stat(root)
	require.True(t, os.IsNotExist(err), "empty save must not create any files")
}

// TestSave_PartitionLocality checks that saving rows from month M never mutates files
// outside month M's partition path.
func TestSave_PartitionLocality(t *testing.T) {
	store, paths := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}

	require.NoError(t, store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{bar("2025-01-15", 1, 1)}}))

	janFile := paths.BarPartitionFile("us", "yahoo", "1d", "AAPL", 2025, time.January)
	before, err := os.Stat(janFile)
	require.NoError(t, err)

	require.NoError(t, store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{bar("2025-02-15", 2, 2)}}))

	after, err := os.Stat(janFile)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime(), "February save must not rewrite January's partition")
}

// TestSave_RowOverwritesOnTimestampCollision covers the explicit tie-break in spec.md §4.5.
func TestSave_RowOverwritesOnTimestampCollision(t *testing.T) {
	store, _ := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}

	require.NoError(t, store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{bar("2025-01-02", 1, 1)}}))
	require.NoError(t, store.Save(binding, "AAPL", "1d", model.BarFrame{Rows: []model.Bar{bar("2025-01-02", 5, 5)}}))

	frame, err := store.Read(binding, "AAPL", "1d", nil, nil)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 1)
	require.Equal(t, 5.0, frame.Rows[0].Close)
}

// TestSave_Idempotent checks that saving the same frame twice is a no-op on the resulting
// read.
func TestSave_Idempotent(t *testing.T) {
	store, _ := newTestStore(t)
	binding := Binding{Market: "us", Source: "yahoo"}
	frame := model.BarFrame{Rows: []model.Bar{bar("2025-01-02", 1, 1), bar("2025-01-03", 2, 2)}}

	require.NoError(t, store.Save(binding, "AAPL", "1d", frame))
	first, err := store.Read(binding, "AAPL", "1d", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(binding, "AAPL", "1d", frame))
	second, err := store.Read(binding, "AAPL", "1d", nil, nil)
	require.NoError(t, err)

	require.Equal(t, first, second)
}
