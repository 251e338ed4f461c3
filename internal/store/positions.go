package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetFilePosition returns the byte offset already consumed for a path,
// zero when the path was never seen.
func (s *Store) GetFilePosition(ctx context.Context, path string) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx, `SELECT offset FROM file_positions WHERE path = ?`, path).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get file position %s: %w", path, err)
	}
	return offset, nil
}

// SetFilePosition records the consumed byte offset for a path. Last write
// wins; the watcher's debounce discipline guarantees a single writer per
// path.
func (s *Store) SetFilePosition(ctx context.Context, path string, offset int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_positions (path, offset, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			offset = excluded.offset,
			last_read_at = excluded.last_read_at
	`, path, offset, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: set file position %s: %w", path, err)
	}
	return nil
}
