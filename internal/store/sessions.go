package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is one logical work session of the assistant.
type Session struct {
	ID                  string     `json:"id"`
	ProjectPath         string     `json:"project_path"`
	GitBranch           string     `json:"git_branch"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	InputTokens         int64      `json:"input_tokens"`
	OutputTokens        int64      `json:"output_tokens"`
	CacheReadTokens     int64      `json:"cache_read_tokens"`
	CacheCreationTokens int64      `json:"cache_creation_tokens"`
	TotalCost           float64    `json:"total_cost"`
	CLIVersion          string     `json:"cli_version"`
}

// SessionDelta carries the incremental contribution of one record. Scalar
// fields only win authority over existing values (start moves earlier, end
// is set-once, text fields fill blanks); numeric fields are always added.
type SessionDelta struct {
	ID                  string
	StartTime           time.Time
	EndTime             *time.Time
	ProjectPath         string
	GitBranch           string
	CLIVersion          string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	Cost                float64
}

// UpsertSession folds a delta into the session row, creating it on first
// sight. The whole merge runs as a single SQL upsert so interleaved calls
// for the same session cannot lose additive contributions.
func (s *Store) UpsertSession(ctx context.Context, delta SessionDelta) error {
	if delta.ID == "" {
		return fmt.Errorf("store: upsert session: empty session id")
	}

	startTime := ""
	if !delta.StartTime.IsZero() {
		startTime = formatTime(delta.StartTime)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, project_path, git_branch, start_time, end_time,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			total_cost, cli_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = CASE
				WHEN excluded.start_time != '' AND (start_time = '' OR excluded.start_time < start_time)
				THEN excluded.start_time
				ELSE start_time
			END,
			end_time = COALESCE(excluded.end_time, end_time),
			project_path = CASE WHEN project_path = '' THEN excluded.project_path ELSE project_path END,
			git_branch = CASE WHEN git_branch = '' THEN excluded.git_branch ELSE git_branch END,
			cli_version = CASE WHEN cli_version = '' THEN excluded.cli_version ELSE cli_version END,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cache_read_tokens = cache_read_tokens + excluded.cache_read_tokens,
			cache_creation_tokens = cache_creation_tokens + excluded.cache_creation_tokens,
			total_cost = total_cost + excluded.total_cost
	`,
		delta.ID,
		delta.ProjectPath,
		delta.GitBranch,
		startTime,
		nullableTime(delta.EndTime),
		delta.InputTokens,
		delta.OutputTokens,
		delta.CacheReadTokens,
		delta.CacheCreationTokens,
		delta.Cost,
		delta.CLIVersion,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session %s: %w", delta.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_path, git_branch, start_time, end_time,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			total_cost, cli_version
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("store: session %s not found", id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess      Session
		startRaw  string
		endRaw    sql.NullString
	)
	if err := row.Scan(
		&sess.ID, &sess.ProjectPath, &sess.GitBranch, &startRaw, &endRaw,
		&sess.InputTokens, &sess.OutputTokens, &sess.CacheReadTokens,
		&sess.CacheCreationTokens, &sess.TotalCost, &sess.CLIVersion,
	); err != nil {
		return Session{}, err
	}
	if startRaw != "" {
		if t, err := parseTime(startRaw); err == nil {
			sess.StartTime = t
		}
	}
	if endRaw.Valid && endRaw.String != "" {
		if t, err := parseTime(endRaw.String); err == nil {
			sess.EndTime = &t
		}
	}
	return sess, nil
}
