// Package history keeps a journal of sync runs in SQLite so the CLI can show
// what happened while the watcher was running. The scheduler never reads it
// back; it is purely a record.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/slynk-app/slynk/internal/sync"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 20

// Run is one journaled sync run.
type Run struct {
	RunID    string
	Root     string
	Started  time.Time
	Finished time.Time
	Success  bool
	Output   string
	Error    string
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Store is a SQLite-backed journal. It implements sync.ResultSink.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	retention time.Duration // 0 keeps everything
	nowFunc   func() time.Time
}

// Open opens (creating if needed) the journal at dbPath and applies pending
// migrations. Runs older than retention are pruned on every Record; pass 0
// to keep all runs.
func Open(ctx context.Context, dbPath string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	logger.Debug("opening sync history", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}

	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		logger:    logger,
		retention: retention,
		nowFunc:   time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record journals res and prunes expired runs.
func (s *Store) Record(ctx context.Context, res *sync.SyncResult) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (run_id, root, started_at, finished_at, success, output, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Root, res.Started.UnixNano(), res.Finished.UnixNano(),
		boolToInt(res.Success()), res.Output, errText,
	)
	if err != nil {
		return fmt.Errorf("history: recording run %s: %w", res.RunID, err)
	}

	if s.retention <= 0 {
		return nil
	}

	pruned, err := s.Prune(ctx, s.nowFunc().Add(-s.retention))
	if err != nil {
		return err
	}

	if pruned > 0 {
		s.logger.Debug("pruned old sync runs", slog.Int64("rows", pruned))
	}

	return nil
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: pruning runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: pruning runs: %w", err)
	}

	return n, nil
}

// List returns the most recent runs, newest first. An empty root lists runs
// for every root.
func (s *Store) List(ctx context.Context, root string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT run_id, root, started_at, finished_at, success, output, error
		FROM sync_runs`
	args := []any{}

	if root != "" {
		query += ` WHERE root = ?`
		args = append(args, root)
	}

	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			success           int
		)

		if err := rows.Scan(&r.RunID, &r.Root, &started, &finished, &success, &r.Output, &r.Error); err != nil {
			return nil, fmt.Errorf("history: scanning run: %w", err)
		}

		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		r.Success = success == 1
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: listing runs: %w", err)
	}

	return runs, nil
}

// Last returns the most recent run for root.
func (s *Store) Last(ctx context.Context, root string) (*Run, error) {
	runs, err := s.List(ctx, root, 1)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, ErrNoRuns
	}

	return &runs[0], nil
}

// ErrNoRuns is returned by Last when nothing has been journaled for a root.
var ErrNoRuns = errors.New("history: no runs recorded")

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
