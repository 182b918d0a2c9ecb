package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/slynk-app/slynk/internal/config"
)

// Rotation settings for log_file. Age-based retention comes from
// log_retention_days.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 10
	logDirPerms   = 0o755
)

// log_format values.
const (
	logFormatText = "text"
	logFormatJSON = "json"
	logFormatAuto = "auto"
)

// bootstrapLogger is used while the config itself is being loaded. It only
// honors the CLI flags: warnings by default, info with --verbose, errors
// only with --quiet.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if flags.Verbose {
		level = slog.LevelInfo
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// logLevel resolves the effective level. Config-file log level provides the
// baseline; --verbose and --quiet override it because CLI flags always win.
func logLevel(cfgLevel string, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch cfgLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the application logger. With log_file set, records go
// to a rotating file; otherwise to stderr. The returned closer is nil when
// there is nothing to close.
func buildLogger(rc *config.Resolved, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: logLevel(rc.LogLevel, flags)}

	var (
		out    io.Writer = stderr
		closer io.Closer
	)

	if rc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(rc.LogFile), logDirPerms); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		lj := &lumberjack.Logger{
			Filename:   rc.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     rc.LogRetentionDays,
			Compress:   true,
		}

		out = lj
		closer = lj
	}

	if resolveLogFormat(rc.LogFormat, out) == logFormatJSON {
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer, nil
}

// resolveLogFormat turns "auto" into text for terminals and JSON for
// everything else (files, pipes, journald).
func resolveLogFormat(format string, w io.Writer) string {
	if format != logFormatAuto {
		return format
	}

	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return logFormatText
		}
	}

	return logFormatJSON
}
