package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Watch.Pattern != "*.jsonl" {
		t.Fatalf("Watch.Pattern = %q, want *.jsonl", cfg.Watch.Pattern)
	}
	if cfg.Watch.DebounceMS != 500 {
		t.Fatalf("Watch.DebounceMS = %d, want 500", cfg.Watch.DebounceMS)
	}
	if cfg.Broadcast.Buffer != 16 {
		t.Fatalf("Broadcast.Buffer = %d, want 16", cfg.Broadcast.Buffer)
	}
}

func TestLoadFrom_InvalidJSONReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom should fail on invalid JSON")
	}
}

func TestLoadFrom_ClampsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"db_path": "/tmp/x.db", "watch": {"dir": "/tmp/logs", "pattern": "", "debounce_ms": -3}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Watch.Dir != "/tmp/logs" {
		t.Fatalf("Watch.Dir = %q, want /tmp/logs", cfg.Watch.Dir)
	}
	if cfg.Watch.Pattern != "*.jsonl" {
		t.Fatalf("Watch.Pattern = %q, want default", cfg.Watch.Pattern)
	}
	if cfg.Watch.DebounceMS != 500 {
		t.Fatalf("Watch.DebounceMS = %d, want default 500", cfg.Watch.DebounceMS)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("DBPath = %q, want /tmp/x.db", cfg.DBPath)
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg := DefaultConfig()
	cfg.Watch.Dir = "/srv/transcripts"
	cfg.Watch.DebounceMS = 250

	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.Watch.Dir != "/srv/transcripts" {
		t.Fatalf("Watch.Dir = %q, want /srv/transcripts", loaded.Watch.Dir)
	}
	if loaded.Watch.DebounceMS != 250 {
		t.Fatalf("Watch.DebounceMS = %d, want 250", loaded.Watch.DebounceMS)
	}
}
