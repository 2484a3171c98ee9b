package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// appDir is the subdirectory Cadenza claims under each XDG base.
const appDir = "cadenza"

// XDGDirs resolves XDG Base Directory paths: config under XDG_CONFIG_HOME,
// the report cache and rotated logs under XDG_CACHE_HOME, and the resume
// state under XDG_STATE_HOME.
type XDGDirs struct{}

// NewXDGDirs creates a new XDG directory resolver.
func NewXDGDirs() *XDGDirs {
	return &XDGDirs{}
}

// GetConfigPaths returns candidate locations for filename in search order:
// the user config directory first, then the system config directories.
// With an empty filename the paths are the directories themselves.
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	roots := append([]string{xdg.ConfigHome}, xdg.ConfigDirs...)
	paths := make([]string, 0, len(roots))
	for _, root := range roots {
		paths = append(paths, appJoin(root, filename))
	}

	slog.Debug("resolved config search paths",
		"filename", filename,
		"count", len(paths),
		"user_path", paths[0])

	return paths
}

// GetCachePath returns the cache directory, descending into purpose when
// one is given ("logs" for rotated log files; the report cache sits at the
// root).
func (x *XDGDirs) GetCachePath(purpose string) string {
	return appJoin(xdg.CacheHome, purpose)
}

// GetStatePath returns the state directory, optionally joined with a
// filename. State holds restorable runtime data such as the resume position.
func (x *XDGDirs) GetStatePath(filename string) string {
	return appJoin(xdg.StateHome, filename)
}

// CreateCacheDir creates the cache directory for a specific purpose.
func (x *XDGDirs) CreateCacheDir(purpose string) error {
	return ensureDir(x.GetCachePath(purpose))
}

// CreateStateDir creates the state directory.
func (x *XDGDirs) CreateStateDir() error {
	return ensureDir(x.GetStatePath(""))
}

// appJoin joins root/cadenza/extra, leaving extra off when empty.
func appJoin(root, extra string) string {
	if extra == "" {
		return filepath.Join(root, appDir)
	}
	return filepath.Join(root, appDir, extra)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		slog.Error("failed to create directory", "path", path, "error", err)
		return err
	}
	slog.Debug("directory ready", "path", path)
	return nil
}
