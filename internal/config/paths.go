package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "slynk"

// File names inside the config and data directories.
const (
	configFileName       = "config.toml"
	rcloneConfigFileName = "rclone.conf"
	historyFileName      = "history.db"
	pidFileName          = "slynk.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/slynk).
// On macOS, uses ~/Library/Application Support/slynk.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data (rclone.conf, history database, PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/slynk).
// On macOS, config and data share ~/Library/Application Support/slynk.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir returns $env/slynk when env is set, else ~/fallback/slynk.
func xdgDir(env, home, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultRcloneConfigPath returns where rclone.conf lives when rclone_config
// is not set.
func DefaultRcloneConfigPath() string {
	return inDir(DefaultDataDir(), rcloneConfigFileName)
}

// DefaultHistoryPath returns where the run journal lives when history_db is
// not set.
func DefaultHistoryPath() string {
	return inDir(DefaultDataDir(), historyFileName)
}

// PIDFilePath returns the PID file used to keep a single watcher running.
func PIDFilePath() string {
	return inDir(DefaultDataDir(), pidFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded and validation
// reports it as not absolute.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
