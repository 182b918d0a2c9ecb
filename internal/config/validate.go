package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minQuietPeriod   = 100 * time.Millisecond
	maxQuietPeriod   = 1 * time.Hour
	minPollInterval  = 10 * time.Millisecond
	minSignalBuffer  = 1
	maxSignalBuffer  = 100_000
	minRetentionDays = 1
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validate checks all configuration values and returns all errors found,
// so users can fix every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateRclone(&cfg.RcloneConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateHistory(&cfg.HistoryConfig)...)
	errs = append(errs, validateMetrics(&cfg.MetricsConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain and path expansion have been applied.
func ValidateResolved(rc *Resolved) error {
	var errs []error

	seen := make(map[string]bool, len(rc.WatchPaths))

	for _, p := range rc.WatchPaths {
		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("watch_paths: must be absolute after expansion, got %q", p))
			continue
		}

		if seen[p] {
			errs = append(errs, fmt.Errorf("watch_paths: %q listed more than once", p))
		}

		seen[p] = true
	}

	if rc.PollIntervalDur > rc.QuietPeriodDur {
		errs = append(errs, fmt.Errorf("poll_interval (%s) must not exceed quiet_period (%s)",
			rc.PollIntervalDur, rc.QuietPeriodDur))
	}

	return errors.Join(errs...)
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	for i, p := range w.WatchPaths {
		if p == "" {
			errs = append(errs, fmt.Errorf("watch_paths[%d]: must not be empty", i))
		}
	}

	if err := validateDurationRange("quiet_period", w.QuietPeriod, minQuietPeriod, maxQuietPeriod); err != nil {
		errs = append(errs, err)
	}

	if err := validateDurationRange("poll_interval", w.PollInterval, minPollInterval, maxQuietPeriod); err != nil {
		errs = append(errs, err)
	}

	if w.SignalBuffer < minSignalBuffer || w.SignalBuffer > maxSignalBuffer {
		errs = append(errs, fmt.Errorf("signal_buffer: must be between %d and %d, got %d",
			minSignalBuffer, maxSignalBuffer, w.SignalBuffer))
	}

	return errs
}

func validateRclone(r *RcloneConfig) []error {
	var errs []error

	if r.RcloneBinary == "" {
		errs = append(errs, errors.New("rclone_binary: must not be empty"))
	}

	if r.RemoteName == "" {
		errs = append(errs, errors.New("remote_name: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minRetentionDays {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d", minRetentionDays, l.LogRetentionDays))
	}

	return errs
}

func validateHistory(h *HistoryConfig) []error {
	if h.HistoryRetentionDays < 0 {
		return []error{fmt.Errorf("history_retention_days: must be >= 0, got %d", h.HistoryRetentionDays)}
	}

	return nil
}

func validateMetrics(m *MetricsConfig) []error {
	if m.MetricsAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(m.MetricsAddr); err != nil {
		return []error{fmt.Errorf("metrics_addr: %w", err)}
	}

	return nil
}

// validateDurationRange parses value and checks lo <= d <= hi.
func validateDurationRange(field, value string, lo, hi time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < lo || d > hi {
		return fmt.Errorf("%s: must be between %s and %s, got %s", field, lo, hi, d)
	}

	return nil
}
