// Package daemon implements RunLock and DaemonLoop from spec.md §4.10: the filesystem
// single-instance guard, signal-driven cancellation, and the trading-hours-gated sweep
// cycle that drives internal/scheduler on a recurring basis. Signal handling and ordered
// shutdown follow a signal.Notify-on-SIGINT/SIGTERM, cancel-context, deferred-cleanup shape;
// process-liveness uses github.com/shirou/gopsutil/v3/process, generalized here from
// CPU/memory stats to a single PID-liveness check.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// RunLock is a filesystem-based single-instance guard: a PID file written atomically, with
// process liveness checked by OS probe so a crash-left stale file is reclaimed automatically
// (spec.md §4.10).
type RunLock struct {
	path string
}

// NewRunLock creates a RunLock for the given PID file path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

// Acquire writes the current process id to the lock file, failing if a live process already
// holds it. A PID file referencing a dead process is silently reclaimed.
func (l *RunLock) Acquire() error {
	if existing, ok, err := l.readPID(); err != nil {
		return fmt.Errorf("read existing lock file: %w", err)
	} else if ok {
		alive, err := process.PidExists(existing)
		if err != nil {
			return fmt.Errorf("check liveness of pid %d: %w", existing, err)
		}
		if alive {
			return fmt.Errorf("another instance is running (pid %d, lock file %s)", existing, l.path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		tmp.Close()
		return fmt.Errorf("write pid: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp lock file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("rename lock file into place: %w", err)
	}
	return nil
}

// Release removes the lock file. Missing files are not an error.
func (l *RunLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (l *RunLock) readPID() (int32, bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, false, nil
	}
	pid, err := strconv.ParseInt(trimmed, 10, 32)
	if err != nil {
		return 0, false, nil // corrupt lock file, treat as reclaimable
	}
	return int32(pid), true, nil
}
