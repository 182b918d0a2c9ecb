package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/slynk-app/slynk/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			return showConfig(cmd.OutOrStdout(), cc.Cfg, cc.Flags.JSON)
		},
	}
}

// configJSON is the JSON form of the effective configuration. Durations are
// rendered as Go duration strings.
type configJSON struct {
	ConfigFile        string   `json:"config_file"`
	WatchPaths        []string `json:"watch_paths"`
	QuietPeriod       string   `json:"quiet_period"`
	PollInterval      string   `json:"poll_interval"`
	SignalBuffer      int      `json:"signal_buffer"`
	ResyncAfterChange bool     `json:"resync_after_change"`
	RcloneBinary      string   `json:"rclone_binary"`
	RcloneConfig      string   `json:"rclone_config"`
	RemoteName        string   `json:"remote_name"`
	RemotePrefix      string   `json:"remote_prefix"`
	RcloneArgs        []string `json:"rclone_args,omitempty"`
	LogLevel          string   `json:"log_level"`
	LogFile           string   `json:"log_file,omitempty"`
	LogFormat         string   `json:"log_format"`
	LogRetentionDays  int      `json:"log_retention_days"`
	HistoryEnabled    bool     `json:"history_enabled"`
	HistoryDB         string   `json:"history_db"`
	HistoryRetention  int      `json:"history_retention_days"`
	MetricsAddr       string   `json:"metrics_addr,omitempty"`
}

func showConfig(w io.Writer, rc *config.Resolved, asJSON bool) error {
	if !asJSON {
		return config.RenderEffective(rc, w)
	}

	watchPaths := rc.WatchPaths
	if watchPaths == nil {
		watchPaths = []string{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(configJSON{
		ConfigFile:        rc.ConfigFile,
		WatchPaths:        watchPaths,
		QuietPeriod:       rc.QuietPeriodDur.String(),
		PollInterval:      rc.PollIntervalDur.String(),
		SignalBuffer:      rc.SignalBuffer,
		ResyncAfterChange: rc.ResyncAfterChange,
		RcloneBinary:      rc.RcloneBinary,
		RcloneConfig:      rc.RcloneConfigPath,
		RemoteName:        rc.RemoteName,
		RemotePrefix:      rc.RemotePrefix,
		RcloneArgs:        rc.RcloneArgs,
		LogLevel:          rc.LogLevel,
		LogFile:           rc.LogFile,
		LogFormat:         rc.LogFormat,
		LogRetentionDays:  rc.LogRetentionDays,
		HistoryEnabled:    rc.HistoryEnabled,
		HistoryDB:         rc.HistoryDB,
		HistoryRetention:  rc.HistoryRetentionDays,
		MetricsAddr:       rc.MetricsAddr,
	})
}
