// Package sync implements the change-to-sync scheduler for slynk. A Watcher
// turns filesystem notifications under a root into coalesced ChangeSignals,
// a Session debounces those signals and runs the Executor at most once at a
// time, and the Manager supervises one Session per watched root.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default scheduling parameters.
const (
	DefaultQuietPeriod  = 5 * time.Second
	DefaultPollInterval = 1 * time.Second
	DefaultSignalBuffer = 100
)

// Sentinel errors.
var (
	ErrSessionExists   = errors.New("sync: root is already being watched")
	ErrSessionNotFound = errors.New("sync: root is not being watched")
	ErrWatcherClosed   = errors.New("sync: filesystem watcher closed unexpectedly")
)

// ChangeSignal means "something under the root changed". Which file changed
// and how is deliberately not carried: the scheduler only needs to know that
// activity happened.
type ChangeSignal struct {
	At time.Time
}

// SessionState is the scheduler state of a watched root.
type SessionState int

// Session states.
const (
	StateIdle SessionState = iota
	StateDebouncing
	StateSyncing
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateSyncing:
		return "syncing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Executor performs the actual content transfer for a local directory.
// Implementations must be safe to call concurrently for different local
// paths; the scheduler never calls it concurrently for the same one.
type Executor interface {
	Execute(ctx context.Context, configPath, localPath string) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, configPath, localPath string) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, configPath, localPath string) (string, error) {
	return f(ctx, configPath, localPath)
}

// SyncResult is the outcome of one Executor invocation. Err is nil on
// success; Output holds the executor's text in both cases.
type SyncResult struct {
	RunID    string
	Root     string
	Started  time.Time
	Finished time.Time
	Output   string
	Err      error
}

// Success reports whether the run succeeded.
func (r *SyncResult) Success() bool {
	return r.Err == nil
}

// Duration returns how long the executor ran.
func (r *SyncResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ResultSink receives every SyncResult after the run completes. Record is
// called from the session's sync goroutine, outside any session lock.
type ResultSink interface {
	Record(ctx context.Context, res *SyncResult) error
}

// WatchSetupError is returned when monitoring of a root cannot be started:
// the path is missing, not a directory, unreadable, or the OS refused to
// add a watch (for example inotify watch limits).
type WatchSetupError struct {
	Path string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("sync: cannot watch %s: %v", e.Path, e.Err)
}

func (e *WatchSetupError) Unwrap() error {
	return e.Err
}

// SyncExecutionError wraps an Executor failure together with the text the
// executor produced.
type SyncExecutionError struct {
	Root   string
	Output string
	Err    error
}

func (e *SyncExecutionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("sync: executing sync for %s: %v", e.Root, e.Err)
	}

	return fmt.Sprintf("sync: executing sync for %s: %v: %s", e.Root, e.Err, e.Output)
}

func (e *SyncExecutionError) Unwrap() error {
	return e.Err
}

// timeSleep waits for the given duration or until the context is canceled.
// Injected via sleepFunc fields so tests can drive a fake clock.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
