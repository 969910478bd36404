package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the workspace state directory.
const HomeEnv = "OPGATE_HOME"

// GetHome returns the opgate state directory, creating it if needed.
// Priority order:
//  1. OPGATE_HOME environment variable (if set)
//  2. .opgate in the current working directory
func GetHome() (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".opgate")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create opgate home directory: %w", err)
	}
	return home, nil
}

// ResolvePath makes a relative config path absolute against base.
// Absolute paths and the SQLite ":memory:" marker pass through unchanged.
func ResolvePath(base, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
