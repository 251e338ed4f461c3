// Package store owns all durable state: sessions, events, per-tool
// statistics, and file cursors. Every mutation is safe to repeat with the
// same logical input without corrupting totals.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeLayout is the fixed-width UTC format used for every stored timestamp.
// Fixed fractional digits keep lexical comparison equivalent to time order,
// which the session start/end upserts rely on.
const TimeLayout = "2006-01-02T15:04:05.000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating DB dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening DB: %w", err)
	}
	if err := applyConnectionPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configuring DB: %w", err)
	}

	store := NewStore(db)
	if err := store.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// applyConnectionPragmas prepares the database for one ingestion writer
// with concurrent CLI readers: WAL keeps readers off the writer's lock, and
// the busy timeout absorbs the moments they still collide.
func applyConnectionPragmas(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA busy_timeout = 5000;`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	// The debounce discipline serializes writes per file, so the pool only
	// needs room for the writer plus a few report queries.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL DEFAULT '',
			git_branch TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			end_time TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			cli_version TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			tool_name TEXT,
			content TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER,
			output_tokens INTEGER,
			cache_read_tokens INTEGER,
			cache_creation_tokens INTEGER,
			cost REAL,
			model TEXT,
			timestamp TEXT NOT NULL,
			uuid TEXT UNIQUE,
			parent_uuid TEXT,
			raw_json TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tool_name ON events(tool_name);`,
		`CREATE TABLE IF NOT EXISTS tool_uses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT 'pending'
		);`,
		`CREATE TABLE IF NOT EXISTS tool_stats (
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			invocations INTEGER NOT NULL DEFAULT 0,
			successes INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			total_duration_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, tool_name)
		);`,
		`CREATE TABLE IF NOT EXISTS file_positions (
			path TEXT PRIMARY KEY,
			offset INTEGER NOT NULL DEFAULT 0,
			last_read_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, raw)
	if err != nil {
		// Rows written by older producers may carry plain RFC3339.
		return time.Parse(time.RFC3339Nano, raw)
	}
	return t, nil
}

func isUniqueConstraintError(err error, target string) bool {
	if err == nil {
		return false
	}
	errText := err.Error()
	return strings.Contains(errText, "UNIQUE constraint failed") && strings.Contains(errText, target)
}

func nullable(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}
