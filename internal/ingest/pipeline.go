// Package ingest turns raw transcript lines and push-style hook records
// into stored sessions, events, and tool statistics, then fans the results
// out to live listeners. One malformed line never stops a batch.
package ingest

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/adityakinifr/ccmonitor/internal/broadcast"
	"github.com/adityakinifr/ccmonitor/internal/store"
)

// Content caps. Storage keeps enough for inspection; the live feed only
// needs a preview.
const (
	maxStoredContent    = 5000
	maxBroadcastContent = 500
	maxToolInputRender  = 200
)

// externalToolPrefix marks tools routed through an external server; only
// those feed per-tool statistics.
const externalToolPrefix = "mcp__"

// Pipeline ties the store, cost model, and broadcaster together. One
// instance is shared by the file watcher and the hook ingress.
type Pipeline struct {
	store *store.Store
	hub   *broadcast.Hub
	now   func() time.Time
}

func NewPipeline(st *store.Store, hub *broadcast.Hub) *Pipeline {
	return &Pipeline{store: st, hub: hub, now: time.Now}
}

// ProcessFile ingests every line appended to path since the last pass and
// advances the file cursor. Malformed lines are skipped; per-line storage
// failures are logged and do not stop the pass.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) error {
	sessionID := SessionIDFromPath(path)

	lines, size, err := p.readNewLines(ctx, path)
	if err != nil {
		return err
	}

	pass := newFilePass()
	for _, line := range lines {
		if err := p.processLine(ctx, sessionID, line, pass); err != nil {
			warnf("record_failed", "session=%s err=%v", sessionID, err)
		}
	}
	if err := pass.flush(ctx, p.store); err != nil {
		warnf("tool_stats_flush_failed", "session=%s err=%v", sessionID, err)
	}

	// The cursor always moves to the end of what was read, even when lines
	// inside the range failed, so a bad line cannot be re-read forever.
	if err := p.store.SetFilePosition(ctx, path, size); err != nil {
		return err
	}
	return nil
}

// publish sends the stored event plus a refreshed global snapshot to live
// listeners. Delivery problems never propagate into ingestion.
func (p *Pipeline) publish(ctx context.Context, ev store.Event) {
	if p.hub == nil {
		return
	}

	preview := ev
	preview.Content = truncate(ev.Content, maxBroadcastContent)
	preview.Raw = ""
	p.hub.Publish(broadcast.Message{Kind: broadcast.KindEvent, Event: &preview})

	stats, err := p.store.Stats(ctx)
	if err != nil {
		warnf("stats_snapshot_failed", "err=%v", err)
		return
	}
	p.hub.Publish(broadcast.Message{Kind: broadcast.KindStats, Stats: &stats})
}

func (p *Pipeline) publishSession(ctx context.Context, id string) {
	if p.hub == nil {
		return
	}
	sess, err := p.store.GetSession(ctx, id)
	if err != nil {
		warnf("session_snapshot_failed", "session=%s err=%v", id, err)
		return
	}
	p.hub.Publish(broadcast.Message{Kind: broadcast.KindSession, Session: &sess})
}

func infof(event, format string, args ...any) {
	if strings.TrimSpace(format) == "" {
		log.Printf("ingest level=info event=%s", event)
		return
	}
	log.Printf("ingest level=info event=%s "+format, append([]any{event}, args...)...)
}

func warnf(event, format string, args ...any) {
	if strings.TrimSpace(format) == "" {
		log.Printf("ingest level=warn event=%s", event)
		return
	}
	log.Printf("ingest level=warn event=%s "+format, append([]any{event}, args...)...)
}
