package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ToolStat aggregates invocation outcomes for one (session, tool) pair.
// Successes and errors always sum to invocations.
type ToolStat struct {
	SessionID       string `json:"session_id"`
	ToolName        string `json:"tool_name"`
	Invocations     int64  `json:"invocations"`
	Successes       int64  `json:"successes"`
	Errors          int64  `json:"errors"`
	TotalDurationMS int64  `json:"total_duration_ms"`
}

// ToolStatDelta is a single observed invocation outcome.
type ToolStatDelta struct {
	SessionID  string
	ToolName   string
	Success    bool
	DurationMS int64
}

// UpsertToolStat additively folds one invocation into the counters.
func (s *Store) UpsertToolStat(ctx context.Context, delta ToolStatDelta) error {
	if delta.SessionID == "" || delta.ToolName == "" {
		return fmt.Errorf("store: upsert tool stat: empty key")
	}

	successes, errors := int64(0), int64(1)
	if delta.Success {
		successes, errors = 1, 0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_stats (session_id, tool_name, invocations, successes, errors, total_duration_ms)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(session_id, tool_name) DO UPDATE SET
			invocations = invocations + 1,
			successes = successes + excluded.successes,
			errors = errors + excluded.errors,
			total_duration_ms = total_duration_ms + excluded.total_duration_ms
	`, delta.SessionID, delta.ToolName, successes, errors, delta.DurationMS)
	if err != nil {
		return fmt.Errorf("store: upsert tool stat %s/%s: %w", delta.SessionID, delta.ToolName, err)
	}
	return nil
}

// ReclassifyToolStatError corrects one invocation that was optimistically
// counted a success but whose error result arrived later: the success moves
// to the error column, invocations stay put.
func (s *Store) ReclassifyToolStatError(ctx context.Context, sessionID, toolName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_stats SET
			successes = MAX(successes - 1, 0),
			errors = errors + 1
		WHERE session_id = ? AND tool_name = ?
	`, sessionID, toolName)
	if err != nil {
		return fmt.Errorf("store: reclassify tool stat %s/%s: %w", sessionID, toolName, err)
	}
	return nil
}

// Tool-use outcomes. An invocation stays pending until its result fragment
// is seen or its file pass ends.
const (
	ToolUseOutcomePending = "pending"
	ToolUseOutcomeSuccess = "success"
	ToolUseOutcomeError   = "error"
)

// ToolUse tracks one external tool invocation by its producer-assigned id,
// so a result fragment arriving in a later pass can still settle it.
type ToolUse struct {
	ID        string
	SessionID string
	ToolName  string
	Outcome   string
}

// InsertToolUse records an invocation as pending. Re-inserting a known id
// is a no-op.
func (s *Store) InsertToolUse(ctx context.Context, tu ToolUse) error {
	if tu.ID == "" || tu.SessionID == "" || tu.ToolName == "" {
		return fmt.Errorf("store: insert tool use: empty key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tool_uses (id, session_id, tool_name, outcome)
		VALUES (?, ?, ?, ?)
	`, tu.ID, tu.SessionID, tu.ToolName, ToolUseOutcomePending)
	if err != nil {
		return fmt.Errorf("store: insert tool use %s: %w", tu.ID, err)
	}
	return nil
}

// GetToolUse looks an invocation up by id; the bool reports whether it is
// known at all.
func (s *Store) GetToolUse(ctx context.Context, id string) (ToolUse, bool, error) {
	var tu ToolUse
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, tool_name, outcome FROM tool_uses WHERE id = ?
	`, id).Scan(&tu.ID, &tu.SessionID, &tu.ToolName, &tu.Outcome)
	if err == sql.ErrNoRows {
		return ToolUse{}, false, nil
	}
	if err != nil {
		return ToolUse{}, false, fmt.Errorf("store: get tool use %s: %w", id, err)
	}
	return tu, true, nil
}

func (s *Store) SetToolUseOutcome(ctx context.Context, id, outcome string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tool_uses SET outcome = ? WHERE id = ?`, outcome, id)
	if err != nil {
		return fmt.Errorf("store: set tool use outcome %s: %w", id, err)
	}
	return nil
}

// ToolStats returns the per-tool counters for one session, ordered by
// invocation count descending.
func (s *Store) ToolStats(ctx context.Context, sessionID string) ([]ToolStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, tool_name, invocations, successes, errors, total_duration_ms
		FROM tool_stats
		WHERE session_id = ?
		ORDER BY invocations DESC, tool_name ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list tool stats: %w", err)
	}
	defer rows.Close()

	var out []ToolStat
	for rows.Next() {
		var ts ToolStat
		if err := rows.Scan(&ts.SessionID, &ts.ToolName, &ts.Invocations, &ts.Successes, &ts.Errors, &ts.TotalDurationMS); err != nil {
			return nil, fmt.Errorf("store: scan tool stat: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
