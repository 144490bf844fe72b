// Package config provides environment-driven configuration and path
// management for the terminal adapter daemon.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for terminal-adapter data.
type Paths struct {
	Data   string // ~/.local/share/terminal-adapter
	Config string // ~/.config/terminal-adapter
	Cache  string // ~/.cache/terminal-adapter
	State  string // ~/.local/state/terminal-adapter
}

// GetPaths returns the standard XDG-style paths for terminal-adapter data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "terminal-adapter"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "terminal-adapter"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "terminal-adapter"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "terminal-adapter"),
	}
}

// EnsurePaths creates all required directories, including the WAL directory.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State, SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// GlobalConfigPath returns the path to the optional YAML config override.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "terminal-adapter.yaml")
}

// SessionsDir returns the directory WAL files are written under. It
// defaults to ~/.talos/sessions per the WAL file layout contract, and can
// be overridden with WAL_DIR.
func SessionsDir() string {
	if v := os.Getenv("WAL_DIR"); v != "" {
		return v
	}
	return filepath.Join(homeDir(), ".talos", "sessions")
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return "/tmp"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(homeDir(), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(homeDir(), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(homeDir(), ".local", "state")
}
