package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slynk-app/slynk/internal/metrics"
)

// Backoff applied after a notification error from the OS.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher abstracts fsnotify.Watcher so tests can inject events and errors.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, whose Events and Errors are
// fields, to the FsWatcher interface.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// Watcher monitors a directory tree and emits one ChangeSignal per
// filesystem event. It never blocks on a slow consumer: when the signal
// queue is full the new signal is dropped, which loses nothing because
// signals are coalesced downstream anyway.
type Watcher struct {
	root    string
	fsw     FsWatcher
	signals chan ChangeSignal
	logger  *slog.Logger
	metrics *metrics.Metrics // optional
	dropped atomic.Int64

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	closeOnce gosync.Once
}

// NewWatcher validates root, creates an OS watcher and registers every
// directory under root. Any failure is returned as *WatchSetupError and no
// resources are left behind. buffer is the signal queue capacity.
func NewWatcher(root string, buffer int, logger *slog.Logger) (*Watcher, error) {
	fsw, err := newFsnotifyWatcher()
	if err != nil {
		return nil, &WatchSetupError{Path: root, Err: err}
	}

	return newWatcherWith(root, fsw, buffer, logger)
}

// newWatcherWith builds a Watcher on top of an existing FsWatcher. On error
// the FsWatcher is closed.
func newWatcherWith(root string, fsw FsWatcher, buffer int, logger *slog.Logger) (*Watcher, error) {
	if buffer < 1 {
		buffer = DefaultSignalBuffer
	}

	w := &Watcher{
		root:      root,
		fsw:       fsw,
		signals:   make(chan ChangeSignal, buffer),
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: timeSleep,
	}

	info, err := os.Stat(root)
	if err != nil {
		w.closeFs()
		return nil, &WatchSetupError{Path: root, Err: err}
	}

	if !info.IsDir() {
		w.closeFs()
		return nil, &WatchSetupError{Path: root, Err: fmt.Errorf("not a directory")}
	}

	dirs, err := w.addTree(root)
	if err != nil {
		w.closeFs()
		return nil, &WatchSetupError{Path: root, Err: err}
	}

	logger.Info("watcher armed",
		slog.String("root", root),
		slog.Int("directories", dirs),
		slog.Int("buffer", buffer),
	)

	return w, nil
}

// Signals returns the signal stream. It is closed when Run returns.
func (w *Watcher) Signals() <-chan ChangeSignal {
	return w.signals
}

// Dropped returns how many signals were discarded because the queue was full.
func (w *Watcher) Dropped() int64 {
	return w.dropped.Load()
}

// Run forwards filesystem events as signals until ctx is canceled. It
// returns nil on cancellation and ErrWatcherClosed if the OS watcher shuts
// down on its own. Notification errors are logged and never forwarded.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.signals)
	defer w.closeFs()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events():
			if !ok {
				return w.closedErr(ctx)
			}

			w.handleEvent(ev)
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-w.fsw.Errors():
			if !ok {
				return w.closedErr(ctx)
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("root", w.root),
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Sustained errors (e.g. kernel queue overflow) must not spin.
			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

func (w *Watcher) closedErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	return ErrWatcherClosed
}

// handleEvent emits exactly one signal for ev and extends the watch set
// when a directory appears.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	w.logger.Debug("filesystem event",
		slog.String("path", ev.Name),
		slog.String("op", ev.Op.String()),
	)

	// The subtree walk runs inline, so a large tree moved into the root
	// delays reading further events until every directory is added.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if _, addErr := w.addTree(ev.Name); addErr != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name),
					slog.String("error", addErr.Error()),
				)
			}
		}
	}

	w.emit()
}

// emit performs a non-blocking send of one signal.
func (w *Watcher) emit() {
	select {
	case w.signals <- ChangeSignal{At: w.nowFunc()}:
	default:
		n := w.dropped.Add(1)
		w.metrics.SignalDropped(w.root)
		w.logger.Debug("signal queue full, dropping signal",
			slog.String("root", w.root),
			slog.Int64("dropped_total", n),
		)
	}
}

// addTree adds a watch for dir and every directory below it. Symlinked
// directories are not followed. Directories that vanish mid-walk are
// skipped; any other failure aborts the walk.
func (w *Watcher) addTree(dir string) (int, error) {
	count := 0

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p != dir {
				return nil
			}

			return fmt.Errorf("walking %s: %w", p, walkErr)
		}

		if !d.IsDir() {
			return nil
		}

		if err := w.fsw.Add(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) && p != dir {
				return filepath.SkipDir
			}

			return fmt.Errorf("adding watch on %s: %w", p, err)
		}

		count++

		return nil
	})

	return count, err
}

func (w *Watcher) closeFs() {
	w.closeOnce.Do(func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Debug("closing filesystem watcher",
				slog.String("root", w.root),
				slog.String("error", err.Error()),
			)
		}
	})
}
