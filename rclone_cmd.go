package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slynk-app/slynk/internal/rclone"
)

func newRcloneVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rclone-version",
		Short: "Check that rclone is installed and print its version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			exec := rclone.New(rclone.Config{Binary: cc.Cfg.RcloneBinary}, cc.Logger)

			out, err := exec.Version(cmd.Context())
			if err != nil {
				return fmt.Errorf("rclone is not usable (rclone_binary = %q): %w", cc.Cfg.RcloneBinary, err)
			}

			fmt.Fprint(cmd.OutOrStdout(), out)

			return nil
		},
	}
}
