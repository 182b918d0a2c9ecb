package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated
// summary to w. This powers "config show", giving users visibility into the
// effective values after every override layer has been applied.
func RenderEffective(rc *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", rc.ConfigFile)

	renderWatchSection(ew, rc)
	renderRcloneSection(ew, &rc.RcloneConfig)
	renderLoggingSection(ew, &rc.LoggingConfig)
	renderHistorySection(ew, &rc.HistoryConfig)
	renderMetricsSection(ew, &rc.MetricsConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderWatchSection(ew *errWriter, rc *Resolved) {
	ew.printf("# watch\n")
	ew.printf("watch_paths         = [%s]\n", joinQuoted(rc.WatchPaths))
	ew.printf("quiet_period        = %q\n", rc.QuietPeriodDur.String())
	ew.printf("poll_interval       = %q\n", rc.PollIntervalDur.String())
	ew.printf("signal_buffer       = %d\n", rc.SignalBuffer)
	ew.printf("resync_after_change = %t\n", rc.ResyncAfterChange)
	ew.printf("\n")
}

func renderRcloneSection(ew *errWriter, r *RcloneConfig) {
	ew.printf("# rclone\n")
	ew.printf("rclone_binary = %q\n", r.RcloneBinary)
	ew.printf("rclone_config = %q\n", r.RcloneConfigPath)
	ew.printf("remote_name   = %q\n", r.RemoteName)
	ew.printf("remote_prefix = %q\n", r.RemotePrefix)

	if len(r.RcloneArgs) > 0 {
		ew.printf("rclone_args   = [%s]\n", joinQuoted(r.RcloneArgs))
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("# logging\n")
	ew.printf("log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("log_file           = %q\n", l.LogFile)
	}

	ew.printf("log_format         = %q\n", l.LogFormat)
	ew.printf("log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderHistorySection(ew *errWriter, h *HistoryConfig) {
	ew.printf("# history\n")
	ew.printf("history_enabled        = %t\n", h.HistoryEnabled)
	ew.printf("history_db             = %q\n", h.HistoryDB)
	ew.printf("history_retention_days = %d\n", h.HistoryRetentionDays)
	ew.printf("\n")
}

func renderMetricsSection(ew *errWriter, m *MetricsConfig) {
	ew.printf("# metrics\n")
	ew.printf("metrics_addr = %q\n", m.MetricsAddr)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
