// Package historylog is the sqlite-backed audit trail for sweep and migration-command runs
// (SPEC_FULL.md §4.9's "Run history" supplement). It is purely additive observability state
// — never authoritative for any invariant in spec.md §3 — built on internal/database's
// connection wrapper, the same layering this codebase uses for its per-job audit databases.
package historylog

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tickerfeed/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	command          TEXT NOT NULL,
	venue            TEXT NOT NULL DEFAULT '',
	interval_name    TEXT NOT NULL DEFAULT '',
	started_at       TEXT NOT NULL,
	finished_at      TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	symbols_migrated INTEGER NOT NULL DEFAULT 0,
	detail           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Outcome classifies how a logged run ended.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Run is one logged invocation of a command (sweep, migrate, verify, activate, rollback).
type Run struct {
	ID              int64
	Command         string
	Venue           string
	Interval        string
	StartedAt       time.Time
	FinishedAt      time.Time
	Outcome         Outcome
	SymbolsMigrated int
	Detail          string
}

// Log wraps a dedicated sqlite database for run history.
type Log struct {
	db *database.DB
}

// Open opens (creating if necessary) the history database at path and applies its schema.
func Open(path string) (*Log, error) {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "historylog"})
	if err != nil {
		return nil, fmt.Errorf("open historylog database: %w", err)
	}
	if err := db.ApplySchema(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply historylog schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error { return l.db.Close() }

// Append records one run. Called by the migration commands (spec.md §4.9's supplemented
// run-history feature); daemon sweeps do not append runs.
func (l *Log) Append(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (command, venue, interval_name, started_at, finished_at, outcome, symbols_migrated, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Command, run.Venue, run.Interval,
		run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
		string(run.Outcome), run.SymbolsMigrated, run.Detail,
	)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// Recent returns the most recent n runs, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, command, venue, interval_name, started_at, finished_at, outcome, symbols_migrated, detail
		FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt, outcome string
		if err := rows.Scan(&r.ID, &r.Command, &r.Venue, &r.Interval, &startedAt, &finishedAt, &outcome, &r.SymbolsMigrated, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// WALCheckpoint forces a WAL checkpoint to bound the history database's WAL file growth.
// The daemon's maintenance cadence (internal/daemon) does not call it.
func (l *Log) WALCheckpoint() error { return l.db.WALCheckpoint("") }
