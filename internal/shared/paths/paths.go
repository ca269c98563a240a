// Package paths provides standardized filesystem locations for agentlens data.
//
// All engine components resolve the data directory through this package so the
// store, log file, and viewer agree on one layout under ~/.agentlens.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Data directory layout, relative to the user home
const (
	// DataDirName is the per-user root for everything agentlens persists
	DataDirName = ".agentlens"

	// DBFileName is the embedded trace store
	DBFileName = "traces.db"

	// LogFileName is the engine's rotating log sink
	LogFileName = "agentlens.log"
)

// DataDir returns the absolute data directory, creating nothing.
// Falls back to the working directory when the home cannot be resolved.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDirName
	}
	return filepath.Join(home, DataDirName)
}

// DefaultDB returns the default database location.
func DefaultDB() string {
	return filepath.Join(DataDir(), DBFileName)
}

// DefaultLog returns the default log file location.
func DefaultLog() string {
	return filepath.Join(DataDir(), LogFileName)
}

// Expand resolves a leading "~/" against the user home directory.
// Paths without the prefix pass through unchanged.
func Expand(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// EnsureParent creates the parent directory of path with private permissions.
func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
