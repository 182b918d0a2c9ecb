package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const hoursPerDay = 24

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	if env.RcloneConfig != "" {
		cfg.RcloneConfigPath = env.RcloneConfig
	}

	if cli.RcloneConfig != "" {
		cfg.RcloneConfigPath = cli.RcloneConfig
	}

	if len(cli.WatchPaths) > 0 {
		cfg.WatchPaths = cli.WatchPaths
	}

	if cli.QuietPeriod != nil {
		cfg.QuietPeriod = *cli.QuietPeriod
	}

	return resolve(cfg, cfgPath)
}

// resolve expands paths, fills path defaults, parses durations and runs the
// final validation.
func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	rc := &Resolved{
		Config:     *cfg,
		ConfigFile: cfgPath,
	}

	rc.WatchPaths = make([]string, 0, len(cfg.WatchPaths))
	for _, p := range cfg.WatchPaths {
		rc.WatchPaths = append(rc.WatchPaths, absPath(p))
	}

	rc.RcloneConfigPath = absPath(cfg.RcloneConfigPath)
	if rc.RcloneConfigPath == "" {
		rc.RcloneConfigPath = DefaultRcloneConfigPath()
	}

	rc.HistoryDB = absPath(cfg.HistoryDB)
	if rc.HistoryDB == "" {
		rc.HistoryDB = DefaultHistoryPath()
	}

	rc.LogFile = absPath(cfg.LogFile)

	// Validate has already checked both durations parse.
	rc.QuietPeriodDur, _ = time.ParseDuration(cfg.QuietPeriod)
	rc.PollIntervalDur, _ = time.ParseDuration(cfg.PollInterval)
	rc.HistoryRetention = time.Duration(cfg.HistoryRetentionDays) * hoursPerDay * time.Hour

	if err := ValidateResolved(rc); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return rc, nil
}

// absPath expands a leading "~/" and makes p absolute relative to the
// working directory. Empty stays empty.
func absPath(p string) string {
	if p == "" {
		return ""
	}

	p = expandTilde(p)

	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return p
}
