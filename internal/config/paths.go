package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultStateDir resolves where durable engine state lives, preferring
// XDG_STATE_HOME when set.
func DefaultStateDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, "ccmonitor"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "ccmonitor"), nil
}

func DefaultDBPath() (string, error) {
	stateDir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "ccmonitor.db"), nil
}
