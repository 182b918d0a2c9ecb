package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/slynk-app/slynk/internal/metrics"
)

// SessionConfig holds the inputs for a Session. Zero durations fall back to
// DefaultQuietPeriod and DefaultPollInterval.
type SessionConfig struct {
	Root         string
	ConfigPath   string // passed opaquely to the Executor
	Executor     Executor
	QuietPeriod  time.Duration
	PollInterval time.Duration

	// ResyncAfterChange re-arms the debounce wait as soon as a sync finishes
	// if any signal arrived while it was running. When false, such signals
	// only move lastActivity and the next cycle starts with the next signal.
	ResyncAfterChange bool

	Sink    ResultSink       // optional
	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger
}

// SessionStatus is a point-in-time snapshot of a Session.
type SessionStatus struct {
	Root         string
	State        SessionState
	LastActivity time.Time
	Runs         int
	Failures     int
	Dropped      int64
	LastResult   *SyncResult
}

// Session is the debounce scheduler for one watched root.
//
// lastActivity and syncInFlight are shared between the signal consumer and
// the cycle goroutine and are only touched under mu. mu is never held across
// the poll sleep or the Executor call.
type Session struct {
	root   string
	cfg    SessionConfig
	runner *syncRunner
	logger *slog.Logger

	mu           gosync.Mutex
	lastActivity time.Time
	syncInFlight bool // set from the arming signal until the cycle ends
	syncing      bool // set only while the Executor runs
	stopped      bool
	runs         int
	failures     int
	lastResult   *SyncResult

	cycles gosync.WaitGroup

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	newRunID  func() string
}

// NewSession validates cfg and returns an idle Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Executor == nil {
		return nil, errors.New("sync: session requires an executor")
	}

	if cfg.Logger == nil {
		return nil, errors.New("sync: session requires a logger")
	}

	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("sync: root must be absolute, got %q", cfg.Root)
	}

	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Session{
		root:      filepath.Clean(cfg.Root),
		cfg:       cfg,
		logger:    cfg.Logger.With(slog.String("root", filepath.Clean(cfg.Root))),
		nowFunc:   time.Now,
		sleepFunc: timeSleep,
		newRunID:  uuid.NewString,
	}

	s.runner = &syncRunner{
		root:       s.root,
		configPath: cfg.ConfigPath,
		exec:       cfg.Executor,
		nowFunc:    func() time.Time { return s.nowFunc() },
	}

	return s, nil
}

// Root returns the watched root.
func (s *Session) Root() string {
	return s.root
}

// Run consumes signals until ctx is canceled or the stream closes, then
// waits for any debounce wait or sync in progress to finish. Canceling ctx
// also cancels the debounce wait and is passed to the Executor.
func (s *Session) Run(ctx context.Context, signals <-chan ChangeSignal) {
	defer s.markStopped()
	defer s.cycles.Wait()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-signals:
			if !ok {
				return
			}

			s.Notify(ctx)
		}
	}
}

// Notify records activity now and, if no cycle is pending or running,
// starts one. It returns true when this call started the cycle.
func (s *Session) Notify(ctx context.Context) bool {
	s.cfg.Metrics.SignalObserved(s.root)

	if !s.observe() {
		return false
	}

	s.logger.Debug("change detected, debounce started",
		slog.Duration("quiet_period", s.cfg.QuietPeriod),
	)

	s.cycles.Add(1)

	go func() {
		defer s.cycles.Done()
		s.cycle(ctx)
	}()

	return true
}

// observe moves lastActivity forward and performs the check-and-set of
// syncInFlight. Only the caller that finds the flag clear gets true.
func (s *Session) observe() bool {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.lastActivity) {
		s.lastActivity = now
	}

	if s.syncInFlight || s.stopped {
		return false
	}

	s.syncInFlight = true

	return true
}

// cycle waits for quiet, syncs, and repeats only when a follow-up is due.
func (s *Session) cycle(ctx context.Context) {
	for {
		if err := s.awaitQuiet(ctx); err != nil {
			s.abandon()
			s.logger.Debug("debounce wait canceled")

			return
		}

		started := s.beginSync()
		res := s.runner.run(ctx, s.newRunID())
		s.report(ctx, res)

		if !s.finishSync(res, started) {
			return
		}

		s.logger.Info("changes arrived during sync, scheduling follow-up")
	}
}

// awaitQuiet polls until at least QuietPeriod has passed since the last
// signal. Equality counts as elapsed.
func (s *Session) awaitQuiet(ctx context.Context) error {
	for {
		if err := s.sleepFunc(ctx, s.cfg.PollInterval); err != nil {
			return err
		}

		if s.quietElapsed() {
			return nil
		}
	}
}

func (s *Session) quietElapsed() bool {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	return now.Sub(s.lastActivity) >= s.cfg.QuietPeriod
}

func (s *Session) beginSync() time.Time {
	now := s.nowFunc()

	s.mu.Lock()
	s.syncing = true
	s.mu.Unlock()

	s.cfg.Metrics.SyncStarted(s.root)
	s.logger.Info("starting sync")

	return now
}

// finishSync clears the in-flight state regardless of outcome. It returns
// true when ResyncAfterChange is set and a signal arrived after started, in
// which case syncInFlight stays set and the caller loops.
func (s *Session) finishSync(res *SyncResult, started time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncing = false
	s.runs++

	if !res.Success() {
		s.failures++
	}

	s.lastResult = res

	if s.cfg.ResyncAfterChange && !s.stopped && s.lastActivity.After(started) {
		return true
	}

	s.syncInFlight = false

	return false
}

func (s *Session) abandon() {
	s.mu.Lock()
	s.syncInFlight = false
	s.mu.Unlock()
}

// report logs the result and forwards it to the metrics and the sink. A sink
// failure is logged and otherwise ignored.
func (s *Session) report(ctx context.Context, res *SyncResult) {
	s.cfg.Metrics.SyncFinished(s.root, res.Success(), res.Duration())

	if res.Success() {
		s.logger.Info("sync completed",
			slog.String("run_id", res.RunID),
			slog.Duration("duration", res.Duration()),
		)
	} else {
		s.logger.Error("sync failed",
			slog.String("run_id", res.RunID),
			slog.Duration("duration", res.Duration()),
			slog.String("error", res.Err.Error()),
		)
	}

	if s.cfg.Sink == nil {
		return
	}

	// The run happened even if the session is being stopped; keep the record.
	if err := s.cfg.Sink.Record(context.WithoutCancel(ctx), res); err != nil {
		s.logger.Warn("recording sync result failed",
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent signal.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActivity
}

// State returns the current scheduler state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	switch {
	case s.stopped:
		return StateStopped
	case s.syncing:
		return StateSyncing
	case s.syncInFlight:
		return StateDebouncing
	default:
		return StateIdle
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		Root:         s.root,
		State:        s.stateLocked(),
		LastActivity: s.lastActivity,
		Runs:         s.runs,
		Failures:     s.failures,
	}

	if s.lastResult != nil {
		res := *s.lastResult
		st.LastResult = &res
	}

	return st
}
