// Package history records automation runs in SQLite so operators can see
// which pattern ended each flow and how long it took.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/middleman/dbopen"
	"github.com/hazyhaar/middleman/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	mode        TEXT NOT NULL,
	location    TEXT NOT NULL,
	hostname    TEXT NOT NULL,
	pattern     TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0,
	iterations  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Entry is one finished run.
type Entry struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Mode       string        `json:"mode"`
	Location   string        `json:"location"`
	Hostname   string        `json:"hostname"`
	Pattern    string        `json:"pattern,omitempty"`
	Outcome    string        `json:"outcome"`
	Records    int           `json:"records"`
	Iterations int           `json:"iterations"`
	Error      string        `json:"error,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
}

// Store is the run log.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// Open opens (creating when needed) the run log at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db), nil
}

// New wraps an open database. The schema must already be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("run_", idgen.UUIDv7())}
}

// Schema returns the DDL of the run log.
func Schema() string { return schema }

// Record stores e, assigning an id when it has none.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO runs (id, session_id, mode, location, hostname, pattern, outcome,
			records, iterations, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Mode, e.Location, e.Hostname, e.Pattern, e.Outcome,
		e.Records, e.Iterations, e.Error, e.Started.UnixMilli(), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// List returns up to limit runs, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, mode, location, hostname, pattern, outcome,
			records, iterations, error, started_at, duration_ms
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, dur int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Mode, &e.Location, &e.Hostname, &e.Pattern,
			&e.Outcome, &e.Records, &e.Iterations, &e.Error, &started, &dur); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Started = time.UnixMilli(started)
		e.Duration = time.Duration(dur) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
