package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/slynk-app/slynk/internal/config"
	"github.com/slynk-app/slynk/internal/history"
)

// detailWidth caps the DETAIL column in text output.
const detailWidth = 60

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show recent sync runs",
		Long: `List recent sync runs from the history journal, newest first. With a path,
only runs for that watched directory are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().IntP("limit", "n", history.DefaultListLimit, "maximum number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	root := ""
	if len(args) == 1 {
		root, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}
	}

	if _, statErr := os.Stat(cc.Cfg.HistoryDB); errors.Is(statErr, os.ErrNotExist) {
		cc.Statusf("No sync history yet (%s does not exist).\n", cc.Cfg.HistoryDB)
		return nil
	}

	// Retention 0: reading never prunes.
	store, err := history.Open(ctx, cc.Cfg.HistoryDB, 0, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, root, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printHistoryJSON(cmd.OutOrStdout(), runs)
	}

	if len(runs) == 0 {
		cc.Statusf("No sync runs recorded.\n")
	} else {
		printHistoryText(cmd.OutOrStdout(), runs, time.Now())
	}

	if pid := runningWatcherPID(config.PIDFilePath()); pid != 0 {
		cc.Statusf("\nWatcher running (PID %d).\n", pid)
	}

	return nil
}

// historyJSON is the JSON shape of one run.
type historyJSON struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func printHistoryJSON(w io.Writer, runs []history.Run) error {
	out := make([]historyJSON, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		out = append(out, historyJSON{
			RunID:      r.RunID,
			Root:       r.Root,
			Started:    r.Started.UTC(),
			Finished:   r.Finished.UTC(),
			DurationMS: r.Duration().Milliseconds(),
			Success:    r.Success,
			Output:     r.Output,
			Error:      r.Error,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printHistoryText(w io.Writer, runs []history.Run, now time.Time) {
	headers := []string{"STARTED", "AGE", "ROOT", "RESULT", "DURATION", "DETAIL"}
	rows := make([][]string, 0, len(runs))

	for i := range runs {
		r := &runs[i]

		result, detail := "ok", firstLine(r.Output, detailWidth)
		if !r.Success {
			result, detail = "failed", firstLine(r.Error, detailWidth)
		}

		rows = append(rows, []string{
			formatTime(r.Started),
			formatAgo(r.Started, now),
			r.Root,
			result,
			formatDuration(r.Duration()),
			detail,
		})
	}

	printTable(w, headers, rows)
}
