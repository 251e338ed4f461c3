package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event source kinds.
const (
	SourceFile = "file"
	SourceHook = "hook"
)

// Event is one observed action, immutable once stored. UUID is the
// producer-supplied dedup identifier; it is empty for push-derived events.
type Event struct {
	ID                  string     `json:"id"`
	SessionID           string     `json:"session_id"`
	Source              string     `json:"source"`
	Kind                string     `json:"kind"`
	ToolName            string     `json:"tool_name,omitempty"`
	Content             string     `json:"content"`
	InputTokens         *int64     `json:"input_tokens,omitempty"`
	OutputTokens        *int64     `json:"output_tokens,omitempty"`
	CacheReadTokens     *int64     `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens *int64     `json:"cache_creation_tokens,omitempty"`
	Cost                *float64   `json:"cost,omitempty"`
	Model               string     `json:"model,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
	UUID                string     `json:"uuid,omitempty"`
	ParentUUID          string     `json:"parent_uuid,omitempty"`
	Raw                 string     `json:"-"`
}

// HasEventUUID reports whether a producer identifier has been stored
// already, checked globally across all sessions.
func (s *Store) HasEventUUID(ctx context.Context, uuid string) (bool, error) {
	if uuid == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE uuid = ?`, uuid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lookup event uuid: %w", err)
	}
	return true, nil
}

// InsertEvent appends an immutable event row. It returns false without error
// when the producer identifier is already stored; the UNIQUE column is the
// defense against races between concurrent writers that both passed the
// classifier's dedup check.
func (s *Store) InsertEvent(ctx context.Context, ev Event) (bool, error) {
	if ev.ID == "" {
		return false, fmt.Errorf("store: insert event: empty id")
	}
	if ev.SessionID == "" {
		return false, fmt.Errorf("store: insert event: empty session id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, session_id, source, kind, tool_name, content,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			cost, model, timestamp, uuid, parent_uuid, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.SessionID,
		ev.Source,
		ev.Kind,
		nullable(ev.ToolName),
		ev.Content,
		nullableInt64(ev.InputTokens),
		nullableInt64(ev.OutputTokens),
		nullableInt64(ev.CacheReadTokens),
		nullableInt64(ev.CacheCreationTokens),
		nullableFloat64(ev.Cost),
		nullable(ev.Model),
		formatTime(ev.Timestamp),
		nullable(ev.UUID),
		nullable(ev.ParentUUID),
		ev.Raw,
	)
	if err != nil {
		if isUniqueConstraintError(err, "events.uuid") {
			return false, nil
		}
		return false, fmt.Errorf("store: insert event: %w", err)
	}
	return true, nil
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		ev       Event
		toolName sql.NullString
		inTok    sql.NullInt64
		outTok   sql.NullInt64
		readTok  sql.NullInt64
		writeTok sql.NullInt64
		cost     sql.NullFloat64
		model    sql.NullString
		tsRaw    string
		uuid     sql.NullString
		parent   sql.NullString
	)
	if err := row.Scan(
		&ev.ID, &ev.SessionID, &ev.Source, &ev.Kind, &toolName, &ev.Content,
		&inTok, &outTok, &readTok, &writeTok, &cost, &model, &tsRaw,
		&uuid, &parent, &ev.Raw,
	); err != nil {
		return Event{}, err
	}
	ev.ToolName = toolName.String
	ev.Model = model.String
	ev.UUID = uuid.String
	ev.ParentUUID = parent.String
	if inTok.Valid {
		ev.InputTokens = &inTok.Int64
	}
	if outTok.Valid {
		ev.OutputTokens = &outTok.Int64
	}
	if readTok.Valid {
		ev.CacheReadTokens = &readTok.Int64
	}
	if writeTok.Valid {
		ev.CacheCreationTokens = &writeTok.Int64
	}
	if cost.Valid {
		ev.Cost = &cost.Float64
	}
	if t, err := parseTime(tsRaw); err == nil {
		ev.Timestamp = t
	}
	return ev, nil
}

const eventColumns = `id, session_id, source, kind, tool_name, content,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
	cost, model, timestamp, uuid, parent_uuid, raw_json`
