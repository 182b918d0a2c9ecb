// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for slynk. Values follow a four-layer
// override chain: defaults -> config file -> environment -> CLI flags.
// The file uses flat top-level keys; the section structs below only group
// them in code.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	WatchConfig
	RcloneConfig
	LoggingConfig
	HistoryConfig
	MetricsConfig
}

// WatchConfig controls which directories are watched and how change bursts
// are debounced.
type WatchConfig struct {
	WatchPaths        []string `toml:"watch_paths"`
	QuietPeriod       string   `toml:"quiet_period"`
	PollInterval      string   `toml:"poll_interval"`
	SignalBuffer      int      `toml:"signal_buffer"`
	ResyncAfterChange bool     `toml:"resync_after_change"`
}

// RcloneConfig controls how the rclone executor is invoked. An empty
// rclone_config resolves to rclone.conf in the data directory.
type RcloneConfig struct {
	RcloneBinary     string   `toml:"rclone_binary"`
	RcloneConfigPath string   `toml:"rclone_config"`
	RemoteName       string   `toml:"remote_name"`
	RemotePrefix     string   `toml:"remote_prefix"`
	RcloneArgs       []string `toml:"rclone_args"`
}

// LoggingConfig controls log output: level, destination file, format, and
// rotation retention.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// HistoryConfig controls the sync run journal.
type HistoryConfig struct {
	HistoryEnabled       bool   `toml:"history_enabled"`
	HistoryDB            string `toml:"history_db"`
	HistoryRetentionDays int    `toml:"history_retention_days"`
}

// MetricsConfig controls the Prometheus endpoint. Empty metrics_addr
// disables it.
type MetricsConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// CLIOverrides holds values from CLI flags. Empty/nil fields mean "not
// specified".
type CLIOverrides struct {
	ConfigPath   string   // --config
	RcloneConfig string   // --rclone-config
	WatchPaths   []string // positional paths for "watch"
	QuietPeriod  *string  // --quiet-period
}

// Resolved is the effective configuration after all override layers, with
// durations parsed and paths expanded and made absolute.
type Resolved struct {
	Config

	ConfigFile       string // the file that was consulted, even if absent
	QuietPeriodDur   time.Duration
	PollIntervalDur  time.Duration
	HistoryRetention time.Duration
}
