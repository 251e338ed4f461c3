// Package config loads the engine settings file. A missing file yields
// defaults; invalid values are clamped back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type WatchConfig struct {
	// Dir is the root of the transcript tree, normally ~/.claude/projects.
	Dir string `json:"dir"`
	// Pattern selects files inside Dir worth ingesting.
	Pattern string `json:"pattern"`
	// DebounceMS is the settle window before a changed file is re-read.
	DebounceMS int `json:"debounce_ms"`
}

type Config struct {
	DBPath    string      `json:"db_path"`
	Watch     WatchConfig `json:"watch"`
	Broadcast struct {
		// Buffer is the per-listener channel depth before drops.
		Buffer int `json:"buffer"`
	} `json:"broadcast"`
}

func DefaultConfig() Config {
	cfg := Config{
		Watch: WatchConfig{
			Pattern:    "*.jsonl",
			DebounceMS: 500,
		},
	}
	cfg.Broadcast.Buffer = 16
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Watch.Dir = filepath.Join(home, ".claude", "projects")
	}
	if dbPath, err := DefaultDBPath(); err == nil {
		cfg.DBPath = dbPath
	}
	return cfg
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "ccmonitor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ccmonitor")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("config: parsing %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Watch.Dir) == "" {
		cfg.Watch.Dir = defaults.Watch.Dir
	}
	if strings.TrimSpace(cfg.Watch.Pattern) == "" {
		cfg.Watch.Pattern = defaults.Watch.Pattern
	}
	if cfg.Watch.DebounceMS <= 0 {
		cfg.Watch.DebounceMS = defaults.Watch.DebounceMS
	}
	if cfg.Broadcast.Buffer <= 0 {
		cfg.Broadcast.Buffer = defaults.Broadcast.Buffer
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaults.DBPath
	}

	return cfg, nil
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing config: %w", err)
	}
	return nil
}
