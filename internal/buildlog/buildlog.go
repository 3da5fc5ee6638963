// Package buildlog is a host-side, disk-backed log of completed task
// executions keyed by persistent task identity. It is explicitly a
// consumer-side observability artifact (grouping failures by task
// identity across runs), not the engine's own graph storage — the engine
// never touches a database.
package buildlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	turbotask "github.com/turbopack-go/turbotask"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Log wraps a sqlite-backed table of execution records. It is safe for one
// writer at a time, matching the single-connection-pool pattern used for
// CLI-scale sqlite access.
type Log struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the sqlite file at path and runs
// pending migrations.
func Open(path string, logger zerolog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("buildlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("buildlog: set WAL: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("buildlog: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("buildlog: migrate: %w", err)
	}

	return &Log{db: db, logger: logger.With().Str("component", "buildlog").Logger()}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return "file:" + path + "?mode=rwc&_txlock=immediate"
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record implements turbotask.StatsRecorder by appending one row per
// completed execution. identity resolves a TaskId back to its persistent
// (functionID, argsKey) pair; transient tasks (identity returns false) are
// skipped since they have no stable identity to group failures by.
type Record struct {
	delegate *Log
	identity func(turbotask.TaskId) (functionID uint32, argsKey string, ok bool)
}

// NewRecorder builds a turbotask.StatsRecorder backed by l. identity must
// resolve persistent task identity for a TaskId; the host's registry of
// GetOrCreatePersistentTask calls is the natural source.
func NewRecorder(l *Log, identity func(turbotask.TaskId) (uint32, string, bool)) *Record {
	return &Record{delegate: l, identity: identity}
}

func (r *Record) RecordExecution(task turbotask.TaskId, rescheduled bool) {
	functionID, argsKey, ok := r.identity(task)
	if !ok {
		return
	}
	_, err := r.delegate.db.ExecContext(context.Background(),
		`INSERT INTO executions (function_id, args_key, task_id, rescheduled, failed) VALUES (?, ?, ?, ?, 0)`,
		functionID, argsKey, uint64(task), boolToInt(rescheduled),
	)
	if err != nil {
		r.delegate.logger.Warn().Err(err).Uint64("task", uint64(task)).Msg("buildlog: failed to record execution")
	}
}

// RecordFailure appends a failure row, used by hosts that separately track
// TaskFailureError outcomes (the StatsRecorder hook alone does not carry
// the error).
func (r *Record) RecordFailure(task turbotask.TaskId, cause error) {
	functionID, argsKey, ok := r.identity(task)
	if !ok {
		return
	}
	_, err := r.delegate.db.ExecContext(context.Background(),
		`INSERT INTO executions (function_id, args_key, task_id, rescheduled, failed, error_message) VALUES (?, ?, ?, 0, 1, ?)`,
		functionID, argsKey, uint64(task), cause.Error(),
	)
	if err != nil {
		r.delegate.logger.Warn().Err(err).Uint64("task", uint64(task)).Msg("buildlog: failed to record failure")
	}
}

// FailuresByIdentity returns how many times the given (functionID, argsKey)
// identity has failed across all recorded runs — the "group failures by
// task identity" observability the engine's error taxonomy section calls
// for at the host layer.
func (l *Log) FailuresByIdentity(functionID uint32, argsKey string) (int, error) {
	var n int
	err := l.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM executions WHERE function_id = ? AND args_key = ? AND failed = 1`,
		functionID, argsKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("buildlog: count failures: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
