package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/slynk-app/slynk/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath   string
	flagRcloneConfig string
	flagJSON         bool
	flagVerbose      bool
	flagQuiet        bool
)

// CLIFlags is the snapshot of persistent flags taken in PersistentPreRunE.
type CLIFlags struct {
	ConfigPath   string
	RcloneConfig string
	JSON         bool
	Verbose      bool
	Quiet        bool
}

// CLIContext carries everything a subcommand needs: the resolved config, the
// logger built from it, and the flag snapshot. It travels on cmd.Context().
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by PersistentPreRunE. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("slynk: CLIContext missing from command context")
	}

	return cc
}

// Close releases the log file, if any.
func (cc *CLIContext) Close() error {
	if cc.logCloser == nil {
		return nil
	}

	return cc.logCloser.Close()
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slynk",
		Short: "Back up directories to a cloud remote when they change",
		Long: `slynk watches local directories and, once a burst of changes has settled,
copies the directory to a cloud remote with rclone.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, args)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				return cc.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagRcloneConfig, "rclone-config", "", "rclone.conf path passed to rclone")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newRcloneVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain, builds the logger, and stores both on the command context.
// Positional paths and --quiet-period only apply to "watch".
func loadConfig(cmd *cobra.Command, args []string) error {
	flags := CLIFlags{
		ConfigPath:   flagConfigPath,
		RcloneConfig: flagRcloneConfig,
		JSON:         flagJSON,
		Verbose:      flagVerbose,
		Quiet:        flagQuiet,
	}

	cli := config.CLIOverrides{
		ConfigPath:   flags.ConfigPath,
		RcloneConfig: flags.RcloneConfig,
	}

	if cmd.Name() == watchCmdName {
		cli.WatchPaths = args

		if f := cmd.Flags().Lookup(quietPeriodFlag); f != nil && f.Changed {
			v := f.Value.String()
			cli.QuietPeriod = &v
		}
	}

	bootstrap := bootstrapLogger(flags)
	env := config.ReadEnvOverrides(bootstrap)

	resolved, err := config.Resolve(env, cli, bootstrap)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := buildLogger(resolved, flags, os.Stderr)
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Flags:     flags,
		Cfg:       resolved,
		Logger:    logger,
		logCloser: closer,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, errAlreadyRunning) {
		return exitAlreadyRunning
	}

	return 1
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}
