package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SessionIDFromPath derives the session id for file-derived records: the
// transcript writer names each file after its session.
func SessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// readNewLines returns the newline-delimited records appended to path since
// the stored cursor, plus the file size the cursor should advance to after
// the pass. A file smaller than its cursor has been truncated or recreated
// and is re-read from the start; dedup keeps the re-read harmless.
func (p *Pipeline) readNewLines(ctx context.Context, path string) ([]string, int64, error) {
	offset, err := p.store.GetFilePosition(ctx, path)
	if err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	size := info.Size()

	if size < offset {
		infof("file_truncated", "path=%s offset=%d size=%d", path, offset, size)
		offset = 0
	}
	if size == offset {
		return nil, size, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("ingest: seek %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("ingest: read %s: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, offset + int64(len(data)), nil
}
