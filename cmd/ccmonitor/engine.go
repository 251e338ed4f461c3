package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adityakinifr/ccmonitor/internal/broadcast"
	"github.com/adityakinifr/ccmonitor/internal/config"
	"github.com/adityakinifr/ccmonitor/internal/ingest"
	"github.com/adityakinifr/ccmonitor/internal/store"
)

// runEngine watches the transcript tree until interrupted. Shutdown order
// matters: the watcher stops before the store closes so no write lands on a
// closed handle.
func runEngine(ctx context.Context, cfg config.Config) error {
	st, err := store.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("startup migration: %w", err)
	}
	if result.DuplicateEventsRemoved > 0 || result.CacheTokensBackfilled > 0 {
		fmt.Fprintf(os.Stderr, "migrated: %d duplicate events removed, %d rows backfilled\n",
			result.DuplicateEventsRemoved, result.CacheTokensBackfilled)
	}

	hub := broadcast.NewHub(cfg.Broadcast.Buffer)
	defer hub.Close()

	pipeline := ingest.NewPipeline(st, hub)
	watcher, err := ingest.NewWatcher(
		pipeline,
		cfg.Watch.Dir,
		cfg.Watch.Pattern,
		time.Duration(cfg.Watch.DebounceMS)*time.Millisecond,
	)
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("watching %s (db %s)\n", cfg.Watch.Dir, cfg.DBPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-ctx.Done():
	case <-sig:
		fmt.Println("shutting down")
	}
	return nil
}
