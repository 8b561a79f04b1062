package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mpataki/geolaunch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage is a session-scoped SQLite database that mirrors the execution
// log. It lives in memory and is gone when the process exits.
type Storage struct {
	db *sql.DB
}

func New() (*Storage, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every new connection to :memory: is a new empty database.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	-- Timestamps are Unix nanoseconds so MAX and ORDER BY compare them as numbers.
	CREATE TABLE IF NOT EXISTS log_entries (
		seq INTEGER PRIMARY KEY,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		invocation_id TEXT
	);

	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		args TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		timed_out INTEGER NOT NULL DEFAULT 0,
		stdout TEXT,
		stderr TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_operation ON invocations(operation);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record implements execlog.Sink.
func (s *Storage) Record(entry models.LogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var invocationID *string
	if r := entry.Result; r != nil {
		if err := insertInvocation(tx, r); err != nil {
			return err
		}
		invocationID = &r.ID
	}

	if _, err := tx.Exec(
		`INSERT INTO log_entries (seq, at, kind, text, invocation_id) VALUES (?, ?, ?, ?, ?)`,
		entry.Seq, entry.Time.UnixNano(), string(entry.Kind), entry.Text, invocationID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func insertInvocation(tx *sql.Tx, r *models.InvocationResult) error {
	args, err := json.Marshal(r.Args)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO invocations (id, operation, args, exit_code, timed_out, stdout, stderr, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Operation, string(args), r.ExitCode, r.TimedOut, r.Stdout, r.Stderr, r.StartedAt.UnixNano(), r.CompletedAt.UnixNano(),
	)
	return err
}

// ListInvocations returns the most recent invocations first.
func (s *Storage) ListInvocations(limit int) ([]*models.InvocationResult, error) {
	rows, err := s.db.Query(
		`SELECT id, operation, args, exit_code, timed_out, stdout, stderr, started_at, completed_at
		 FROM invocations ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.InvocationResult
	for rows.Next() {
		var r models.InvocationResult
		var args string
		var stdout, stderr sql.NullString
		var started, completed int64

		err := rows.Scan(
			&r.ID, &r.Operation, &args, &r.ExitCode, &r.TimedOut,
			&stdout, &stderr, &started, &completed,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
			return nil, err
		}
		r.StartedAt = fromNanos(started)
		r.CompletedAt = fromNanos(completed)
		if stdout.Valid {
			r.Stdout = stdout.String
		}
		if stderr.Valid {
			r.Stderr = stderr.String
		}

		results = append(results, &r)
	}

	return results, rows.Err()
}

type OperationStats struct {
	Operation    string
	Invocations  int
	Failures     int
	LastExitCode int
	LastRun      time.Time
}

// Stats summarizes invocations per operation, most recently run first.
// A failure is a non-zero exit or a timeout.
func (s *Storage) Stats() ([]OperationStats, error) {
	rows, err := s.db.Query(`
		SELECT i.operation,
		       COUNT(*),
		       SUM(CASE WHEN i.exit_code != 0 OR i.timed_out THEN 1 ELSE 0 END),
		       (SELECT l.exit_code FROM invocations l WHERE l.operation = i.operation
		        ORDER BY l.started_at DESC, l.rowid DESC LIMIT 1),
		       MAX(i.started_at)
		FROM invocations i
		GROUP BY i.operation
		ORDER BY MAX(i.started_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []OperationStats
	for rows.Next() {
		var st OperationStats
		var lastRun int64
		if err := rows.Scan(&st.Operation, &st.Invocations, &st.Failures, &st.LastExitCode, &lastRun); err != nil {
			return nil, err
		}
		st.LastRun = fromNanos(lastRun)
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// CountEntries returns log entries per kind.
func (s *Storage) CountEntries() (map[models.EntryKind]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM log_entries GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.EntryKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[models.EntryKind(kind)] = n
	}

	return counts, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}
