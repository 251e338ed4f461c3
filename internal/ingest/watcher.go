package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a directory tree for transcript appends and runs the
// pipeline once per settled burst of writes to a file.
type Watcher struct {
	pipeline *Pipeline
	fsw      *fsnotify.Watcher
	root     string
	pattern  string
	debounce time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]*sync.Mutex
	started  bool
	closed   bool

	passes sync.WaitGroup
	done   chan struct{}
}

// NewWatcher prepares a watcher over root for files matching pattern (a
// base-name glob such as "*.jsonl"). Start must be called to begin
// observing.
func NewWatcher(pipeline *Pipeline, root, pattern string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ingest: creating watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		pipeline: pipeline,
		fsw:      fsw,
		root:     root,
		pattern:  pattern,
		debounce: debounce,
		timers:   map[string]*time.Timer{},
		inflight: map[string]*sync.Mutex{},
		done:     make(chan struct{}),
	}, nil
}

// Start watches the tree and ingests matching files as they settle. The
// initial scan schedules every existing matching file so historical data is
// never skipped. Start returns after spawning the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	if err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.matches(path) {
			w.schedule(ctx, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("ingest: initial scan: %w", err)
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			warnf("watch_error", "err=%v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New directories (new projects) join the watch set as they appear.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				warnf("watch_add_failed", "path=%s err=%v", event.Name, err)
			}
			return
		}
	}

	if w.matches(event.Name) {
		w.schedule(ctx, event.Name)
	}
}

func (w *Watcher) matches(path string) bool {
	ok, err := filepath.Match(w.pattern, filepath.Base(path))
	return err == nil && ok
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			warnf("watch_add_failed", "path=%s err=%v", path, err)
		}
		return nil
	})
}

// schedule restarts the debounce timer for path; the pipeline only runs
// once notifications for the path stop arriving for a full debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.closed || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.passes.Add(1)
		w.mu.Unlock()
		defer w.passes.Done()
		w.runPipeline(ctx, path)
	})
}

// runPipeline serializes passes over the same file; concurrent passes over
// different files proceed independently.
func (w *Watcher) runPipeline(ctx context.Context, path string) {
	w.mu.Lock()
	lock, ok := w.inflight[path]
	if !ok {
		lock = &sync.Mutex{}
		w.inflight[path] = lock
	}
	w.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if err := w.pipeline.ProcessFile(ctx, path); err != nil {
		warnf("file_ingest_failed", "path=%s err=%v", path, err)
		return
	}
	infof("file_ingested", "path=%s", path)
}

// Close cancels every outstanding debounce timer, shuts the file-system
// subscription down, and waits for the event loop and any in-flight file
// pass to finish, so the caller can close the store without racing a write.
// Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	w.passes.Wait()
	return err
}
