package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/slynk-app/slynk/internal/config"
	"github.com/slynk-app/slynk/internal/history"
	"github.com/slynk-app/slynk/internal/metrics"
	"github.com/slynk-app/slynk/internal/rclone"
	"github.com/slynk-app/slynk/internal/sync"
)

const (
	watchCmdName    = "watch"
	quietPeriodFlag = "quiet-period"

	historyDirPermissions  = 0o700
	metricsShutdownTimeout = 5 * time.Second
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   watchCmdName + " [path...]",
		Short: "Watch directories and back them up when changes settle",
		Long: `Watch one or more directories (recursively) and run "rclone copy" for a
directory once no change has been seen in it for the quiet period.

Paths given on the command line replace watch_paths from the config file.
Each directory is handled independently; at most one copy per directory runs
at a time. The first Ctrl-C stops watching and cancels any running copy; the
second exits immediately.`,
		RunE: runWatch,
	}

	cmd.Flags().String(quietPeriodFlag, "", "quiet period before a sync starts (e.g. 5s)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	rc := cc.Cfg
	logger := cc.Logger

	if len(rc.WatchPaths) == 0 {
		return errors.New("nothing to watch: pass directories as arguments or set watch_paths in the config file")
	}

	release, err := writePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer release()

	ctx := shutdownContext(cmd.Context(), logger)

	exec := rclone.New(rclone.Config{
		Binary:    rc.RcloneBinary,
		Remote:    rc.RemoteName,
		Prefix:    rc.RemotePrefix,
		ExtraArgs: rc.RcloneArgs,
	}, logger)

	var (
		sink  sync.ResultSink
		store *history.Store
	)

	if rc.HistoryEnabled {
		store, err = openHistory(ctx, rc, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		sink = store
	}

	var m *metrics.Metrics

	if rc.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		m = metrics.New(reg)

		srv, listenErr := metrics.Listen(rc.MetricsAddr, reg, logger)
		if listenErr != nil {
			return listenErr
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()

			if closeErr := srv.Close(shutdownCtx); closeErr != nil {
				logger.Warn("metrics server shutdown", slog.String("error", closeErr.Error()))
			}
		}()
	}

	mgr := sync.NewManager(sync.ManagerConfig{
		ConfigPath:        rc.RcloneConfigPath,
		Executor:          exec,
		QuietPeriod:       rc.QuietPeriodDur,
		PollInterval:      rc.PollIntervalDur,
		SignalBuffer:      rc.SignalBuffer,
		ResyncAfterChange: rc.ResyncAfterChange,
		Sink:              sink,
		Metrics:           m,
		Logger:            logger,
	})

	if err := startSessions(ctx, cc, mgr, exec, store); err != nil {
		return err
	}

	return waitForSessions(ctx, cc, mgr)
}

// startSessions arms a session per configured root. If any root cannot be
// watched, the already-started ones are stopped and the setup error is
// returned.
func startSessions(
	ctx context.Context, cc *CLIContext, mgr *sync.Manager, exec *rclone.Executor, store *history.Store,
) error {
	for _, root := range cc.Cfg.WatchPaths {
		if err := mgr.Start(ctx, root); err != nil {
			return errors.Join(fmt.Errorf("starting watch: %w", err), mgr.Shutdown())
		}

		dest, err := exec.Destination(root)
		if err != nil {
			return errors.Join(err, mgr.Shutdown())
		}

		cc.Statusf("Watching %s -> %s\n", root, dest)

		if store != nil {
			reportLastRun(ctx, cc, store, root)
		}
	}

	cc.Statusf("Quiet period %s. Press Ctrl-C to stop.\n", cc.Cfg.QuietPeriodDur)

	return nil
}

// waitForSessions blocks until the user stops the watcher or every session
// has ended on its own (for example because the OS watcher went away).
func waitForSessions(ctx context.Context, cc *CLIContext, mgr *sync.Manager) error {
	waitErr := make(chan error, 1)

	go func() { waitErr <- mgr.Wait() }()

	select {
	case <-ctx.Done():
		cc.Statusf("Stopping...\n")

		return mgr.Shutdown()
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("all watch sessions ended: %w", err)
		}

		return nil
	}
}

func openHistory(ctx context.Context, rc *config.Resolved, logger *slog.Logger) (*history.Store, error) {
	if err := os.MkdirAll(filepath.Dir(rc.HistoryDB), historyDirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	return history.Open(ctx, rc.HistoryDB, rc.HistoryRetention, logger)
}

// reportLastRun prints when root was last backed up, if ever.
func reportLastRun(ctx context.Context, cc *CLIContext, store *history.Store, root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}

	last, err := store.Last(ctx, abs)
	if errors.Is(err, history.ErrNoRuns) {
		return
	}

	if err != nil {
		cc.Logger.Warn("reading sync history", slog.String("root", abs), slog.String("error", err.Error()))
		return
	}

	result := "succeeded"
	if !last.Success {
		result = "failed"
	}

	cc.Statusf("  last sync %s %s\n", formatAgo(last.Started, time.Now()), result)
}
