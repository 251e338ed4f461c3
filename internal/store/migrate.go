package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// MigrationResult summarizes the one-time startup cleanup.
type MigrationResult struct {
	DuplicateEventsRemoved int64
	CacheTokensBackfilled  int64
}

// Migrate runs one-time cleanup of state written before the current
// invariants were enforced: duplicate producer identifiers are collapsed
// (keeping the lowest rowid, best-effort) with their contribution subtracted
// from the owning session's totals, and cache-token columns missing on
// legacy rows are re-derived from the stored raw payload.
func (s *Store) Migrate(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult

	removed, err := s.collapseDuplicateUUIDs(ctx)
	if err != nil {
		return result, err
	}
	result.DuplicateEventsRemoved = removed

	backfilled, err := s.backfillCacheTokens(ctx)
	if err != nil {
		return result, err
	}
	result.CacheTokensBackfilled = backfilled
	return result, nil
}

type duplicateRow struct {
	rowid      int64
	sessionID  string
	inputTok   int64
	outputTok  int64
	readTok    int64
	writeTok   int64
	cost       float64
}

func (s *Store) collapseDuplicateUUIDs(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: migrate begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT e.rowid, e.session_id,
			COALESCE(e.input_tokens, 0), COALESCE(e.output_tokens, 0),
			COALESCE(e.cache_read_tokens, 0), COALESCE(e.cache_creation_tokens, 0),
			COALESCE(e.cost, 0)
		FROM events e
		JOIN (
			SELECT uuid, MIN(rowid) AS keep_rowid
			FROM events
			WHERE uuid IS NOT NULL
			GROUP BY uuid
			HAVING COUNT(*) > 1
		) d ON e.uuid = d.uuid AND e.rowid != d.keep_rowid
	`)
	if err != nil {
		return 0, fmt.Errorf("store: migrate list duplicates: %w", err)
	}

	var dups []duplicateRow
	for rows.Next() {
		var d duplicateRow
		if err := rows.Scan(&d.rowid, &d.sessionID, &d.inputTok, &d.outputTok, &d.readTok, &d.writeTok, &d.cost); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: migrate scan duplicate: %w", err)
		}
		dups = append(dups, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, d := range dups {
		// Session input totals carry input + cache reads, so the subtraction
		// mirrors the ingest-time addition.
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET
				input_tokens = MAX(input_tokens - ?, 0),
				output_tokens = MAX(output_tokens - ?, 0),
				cache_read_tokens = MAX(cache_read_tokens - ?, 0),
				cache_creation_tokens = MAX(cache_creation_tokens - ?, 0),
				total_cost = MAX(total_cost - ?, 0)
			WHERE id = ?
		`, d.inputTok+d.readTok, d.outputTok, d.readTok, d.writeTok, d.cost, d.sessionID); err != nil {
			return 0, fmt.Errorf("store: migrate adjust session %s: %w", d.sessionID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE rowid = ?`, d.rowid); err != nil {
			return 0, fmt.Errorf("store: migrate delete duplicate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: migrate commit: %w", err)
	}
	return int64(len(dups)), nil
}

type rawUsagePayload struct {
	Message struct {
		Usage struct {
			CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func (s *Store) backfillCacheTokens(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw_json
		FROM events
		WHERE cost IS NOT NULL
		  AND cache_read_tokens IS NULL
		  AND raw_json LIKE '%cache_read_input_tokens%'
	`)
	if err != nil {
		return 0, fmt.Errorf("store: backfill list legacy rows: %w", err)
	}

	type patch struct {
		id    string
		read  int64
		write int64
	}
	var patches []patch
	for rows.Next() {
		var (
			id  string
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: backfill scan row: %w", err)
		}
		var payload rawUsagePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			continue
		}
		usage := payload.Message.Usage
		if usage.CacheReadInputTokens == nil && usage.CacheCreationInputTokens == nil {
			continue
		}
		p := patch{id: id}
		if usage.CacheReadInputTokens != nil {
			p.read = *usage.CacheReadInputTokens
		}
		if usage.CacheCreationInputTokens != nil {
			p.write = *usage.CacheCreationInputTokens
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(patches) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: backfill begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patches {
		if err := applyCachePatch(ctx, tx, p.id, p.read, p.write); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: backfill commit: %w", err)
	}
	return int64(len(patches)), nil
}

func applyCachePatch(ctx context.Context, tx *sql.Tx, id string, read, write int64) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE events SET cache_read_tokens = ?, cache_creation_tokens = ?
		WHERE id = ? AND cache_read_tokens IS NULL
	`, read, write, id); err != nil {
		return fmt.Errorf("store: backfill update event %s: %w", id, err)
	}
	return nil
}
