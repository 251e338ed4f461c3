package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForSession(t *testing.T, p *Pipeline, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := p.store.GetSession(context.Background(), id); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s never ingested", id)
}

func TestWatcher_InitialScanIngestsExistingFiles(t *testing.T) {
	p, _ := newTestPipeline(t)
	root := t.TempDir()

	projectDir := filepath.Join(root, "project-a")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeLines(t, filepath.Join(projectDir, "sess-old.jsonl"),
		userLine("u-1", "historic work"))

	w, err := NewWatcher(p, root, "*.jsonl", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForSession(t, p, "sess-old")
}

func TestWatcher_PicksUpNewFilesAndAppends(t *testing.T) {
	p, st := newTestPipeline(t)
	root := t.TempDir()

	w, err := NewWatcher(p, root, "*.jsonl", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	path := filepath.Join(root, "sess-live.jsonl")
	writeLines(t, path, assistantLine("a-1", "sonnet", 100, 10, 0, 0))
	waitForSession(t, p, "sess-live")

	writeLines(t, path, assistantLine("a-2", "sonnet", 200, 20, 0, 0))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(context.Background(), "sess-live")
		if err == nil && sess.InputTokens == 300 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("appended line never ingested")
}

func TestWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	p, st := newTestPipeline(t)
	root := t.TempDir()

	writeLines(t, filepath.Join(root, "notes.txt"), userLine("u-1", "ignored"))

	w, err := NewWatcher(p, root, "*.jsonl", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if _, err := st.GetSession(context.Background(), "notes"); err == nil {
		t.Fatal("non-matching file was ingested")
	}
}

func TestWatcher_CloseStopsIngestion(t *testing.T) {
	p, st := newTestPipeline(t)
	root := t.TempDir()

	w, err := NewWatcher(p, root, "*.jsonl", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Close returns only after the event loop and in-flight passes finish,
	// so anything written afterwards must never reach the store.
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	writeLines(t, filepath.Join(root, "sess-late.jsonl"),
		userLine("u-1", "after shutdown"))

	time.Sleep(200 * time.Millisecond)
	if _, err := st.GetSession(context.Background(), "sess-late"); err == nil {
		t.Fatal("file ingested after Close")
	}
}

func TestWatcher_CloseIsIdempotentAndStopsTimers(t *testing.T) {
	p, _ := newTestPipeline(t)
	root := t.TempDir()

	w, err := NewWatcher(p, root, "*.jsonl", time.Hour)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Queue a debounced pass that must never fire after Close.
	w.schedule(ctx, filepath.Join(root, "sess-x.jsonl"))

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	w.mu.Lock()
	remaining := len(w.timers)
	w.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("timers outstanding after Close: %d", remaining)
	}
}
