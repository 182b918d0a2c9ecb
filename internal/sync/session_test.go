package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manual clock. Sleep advances it by the requested duration
// and then fires any scripted callbacks that have come due, which lets tests
// inject signals at exact offsets while the debounce loop is polling.
type fakeClock struct {
	mu      gosync.Mutex
	base    time.Time
	now     time.Time
	pending []scripted
}

type scripted struct {
	at time.Duration
	fn func()
}

func newFakeClock() *fakeClock {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &fakeClock{base: base, now: base}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Elapsed returns the time since the clock was created.
func (c *fakeClock) Elapsed() time.Duration {
	return c.Now().Sub(c.base)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// At schedules fn to run once the clock reaches base+offset.
func (c *fakeClock) At(offset time.Duration, fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, scripted{at: offset, fn: fn})
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	elapsed := c.now.Sub(c.base)

	var due []func()

	remaining := c.pending[:0]
	for _, s := range c.pending {
		if s.at <= elapsed {
			due = append(due, s.fn)
		} else {
			remaining = append(remaining, s)
		}
	}

	c.pending = remaining
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}

	return nil
}

// execCall is one recorded Executor invocation.
type execCall struct {
	configPath string
	localPath  string
	at         time.Duration
}

// recordingExecutor records calls and delegates to fn when set.
type recordingExecutor struct {
	clock *fakeClock
	fn    func(ctx context.Context) (string, error)

	mu    gosync.Mutex
	calls []execCall
}

func (e *recordingExecutor) Execute(ctx context.Context, configPath, localPath string) (string, error) {
	call := execCall{configPath: configPath, localPath: localPath}
	if e.clock != nil {
		call.at = e.clock.Elapsed()
	}

	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()

	if e.fn != nil {
		return e.fn(ctx)
	}

	return "ok", nil
}

func (e *recordingExecutor) Calls() []execCall {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]execCall(nil), e.calls...)
}

// recordingSink collects every result handed to it.
type recordingSink struct {
	mu      gosync.Mutex
	results []*SyncResult
	err     error
}

func (s *recordingSink) Record(_ context.Context, res *SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, res)

	return s.err
}

func (s *recordingSink) Results() []*SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*SyncResult(nil), s.results...)
}

// newClockedSession builds a Session driven entirely by clk.
func newClockedSession(t *testing.T, cfg SessionConfig, clk *fakeClock) *Session {
	t.Helper()

	if cfg.Root == "" {
		cfg.Root = "/data/photos"
	}

	cfg.Logger = testLogger(t)

	s, err := NewSession(cfg)
	require.NoError(t, err)

	s.nowFunc = clk.Now
	s.sleepFunc = clk.Sleep

	var n atomic.Int64
	s.newRunID = func() string { return fmt.Sprintf("run-%d", n.Add(1)) }

	return s
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	logger := testLogger(t)

	_, err := NewSession(SessionConfig{Root: "/data", Logger: logger})
	assert.ErrorContains(t, err, "requires an executor")

	_, err = NewSession(SessionConfig{Root: "/data", Executor: exec})
	assert.ErrorContains(t, err, "requires a logger")

	_, err = NewSession(SessionConfig{Root: "relative", Executor: exec, Logger: logger})
	assert.ErrorContains(t, err, "must be absolute")

	s, err := NewSession(SessionConfig{Root: "/data/photos/", Executor: exec, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, "/data/photos", s.Root())
	assert.Equal(t, DefaultQuietPeriod, s.cfg.QuietPeriod)
	assert.Equal(t, DefaultPollInterval, s.cfg.PollInterval)
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.LastActivity().IsZero())
}

// Sync start times for a variety of signal patterns. Every case checks that
// the sync starts no earlier than QuietPeriod after the last signal and no
// later than QuietPeriod+PollInterval.
func TestSession_DebounceTiming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		quiet      time.Duration
		poll       time.Duration
		signals    []time.Duration
		wantSyncAt time.Duration
	}{
		{
			name:       "single signal syncs exactly at quiet period",
			quiet:      5 * time.Second,
			poll:       time.Second,
			signals:    []time.Duration{0},
			wantSyncAt: 5 * time.Second,
		},
		{
			name:       "burst collapses into one sync after last signal",
			quiet:      5 * time.Second,
			poll:       time.Second,
			signals:    []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second},
			wantSyncAt: 9 * time.Second,
		},
		{
			name:       "late signal restarts the quiet period",
			quiet:      5 * time.Second,
			poll:       time.Second,
			signals:    []time.Duration{0, 4 * time.Second},
			wantSyncAt: 9 * time.Second,
		},
		{
			name:       "signal on the would-be sync tick defers it",
			quiet:      5 * time.Second,
			poll:       time.Second,
			signals:    []time.Duration{0, 5 * time.Second},
			wantSyncAt: 10 * time.Second,
		},
		{
			name:       "coarse poll rounds up to next tick",
			quiet:      5 * time.Second,
			poll:       2 * time.Second,
			signals:    []time.Duration{0},
			wantSyncAt: 6 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			clk := newFakeClock()
			exec := &recordingExecutor{clock: clk}
			s := newClockedSession(t, SessionConfig{
				Executor:     exec,
				QuietPeriod:  tt.quiet,
				PollInterval: tt.poll,
			}, clk)

			for _, at := range tt.signals[1:] {
				clk.At(at, func() {
					assert.False(t, s.Notify(ctx), "signal during debounce must not arm a second cycle")
				})
			}

			require.True(t, s.Notify(ctx))
			s.cycles.Wait()

			calls := exec.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantSyncAt, calls[0].at)

			last := tt.signals[len(tt.signals)-1]
			assert.GreaterOrEqual(t, calls[0].at-last, tt.quiet)
			assert.LessOrEqual(t, calls[0].at-last, tt.quiet+tt.poll)
			assert.Equal(t, StateIdle, s.State())
		})
	}
}

func TestSession_PassesRootAndConfigToExecutor(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	exec := &recordingExecutor{clock: clk}
	s := newClockedSession(t, SessionConfig{
		Root:       "/srv/share",
		ConfigPath: "/etc/slynk/rclone.conf",
		Executor:   exec,
	}, clk)

	require.True(t, s.Notify(context.Background()))
	s.cycles.Wait()

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/srv/share", calls[0].localPath)
	assert.Equal(t, "/etc/slynk/rclone.conf", calls[0].configPath)
}

func TestSession_SingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 4)

	var inFlight, maxInFlight atomic.Int32

	exec := &recordingExecutor{fn: func(context.Context) (string, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}

		started <- struct{}{}
		<-release
		inFlight.Add(-1)

		return "done", nil
	}}

	s, err := NewSession(SessionConfig{
		Root:         "/data/photos",
		Executor:     exec,
		QuietPeriod:  20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       testLogger(t),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, s.Notify(ctx))

	// Signals during the debounce wait never start a second cycle.
	assert.False(t, s.Notify(ctx))
	assert.Equal(t, StateDebouncing, s.State())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never started")
	}

	assert.Equal(t, StateSyncing, s.State())

	for range 50 {
		assert.False(t, s.Notify(ctx))
	}

	close(release)
	s.cycles.Wait()

	assert.Len(t, exec.Calls(), 1, "signals during a sync must not queue another run")
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, StateIdle, s.State())

	// The flag is clear again: the next signal arms a new cycle.
	require.True(t, s.Notify(ctx))
	s.cycles.Wait()
	assert.Len(t, exec.Calls(), 2)
}

func TestSession_ConcurrentNotifyArmsOnce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	exec := &recordingExecutor{clock: clk}
	s := newClockedSession(t, SessionConfig{Executor: exec}, clk)

	ctx, cancel := context.WithCancel(context.Background())

	// Hold the cycle in its first sleep until every Notify has returned.
	gate := make(chan struct{})
	s.sleepFunc = func(ctx context.Context, d time.Duration) error {
		<-gate
		return clk.Sleep(ctx, d)
	}

	var armed atomic.Int32

	var wg gosync.WaitGroup
	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if s.Notify(ctx) {
				armed.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), armed.Load())

	close(gate)
	s.cycles.Wait()
	cancel()

	assert.Len(t, exec.Calls(), 1)
}

func TestSession_SyncDoesNotTouchLastActivity(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	exec := &recordingExecutor{clock: clk, fn: func(context.Context) (string, error) {
		clk.Advance(30 * time.Second)
		return "ok", nil
	}}
	s := newClockedSession(t, SessionConfig{Executor: exec}, clk)

	require.True(t, s.Notify(context.Background()))
	signalAt := s.LastActivity()

	s.cycles.Wait()

	assert.Equal(t, signalAt, s.LastActivity())
}

func TestSession_LastActivityNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	exec := &recordingExecutor{clock: clk}
	s := newClockedSession(t, SessionConfig{Executor: exec}, clk)

	// A canceled context abandons each debounce wait on its first poll, so
	// only the signal bookkeeping is exercised.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clk.Advance(time.Minute)
	require.True(t, s.Notify(ctx))
	s.cycles.Wait()

	first := s.LastActivity()
	assert.Equal(t, clk.Now(), first)

	clk.Advance(-10 * time.Second)
	require.True(t, s.Notify(ctx))
	s.cycles.Wait()

	assert.Equal(t, first, s.LastActivity())

	clk.Advance(20 * time.Second)
	require.True(t, s.Notify(ctx))
	s.cycles.Wait()

	assert.Equal(t, first.Add(10*time.Second), s.LastActivity())
	assert.Empty(t, exec.Calls())
}

func TestSession_FailureRearms(t *testing.T) {
	t.Parallel()

	errExit := errors.New("exit status 1")
	clk := newFakeClock()

	var fail atomic.Bool
	fail.Store(true)

	exec := &recordingExecutor{clock: clk, fn: func(context.Context) (string, error) {
		if fail.Load() {
			return "Failed to copy: 401 Unauthorized", errExit
		}

		return "Transferred: 1", nil
	}}
	sink := &recordingSink{}
	s := newClockedSession(t, SessionConfig{Executor: exec, Sink: sink}, clk)

	ctx := context.Background()
	require.True(t, s.Notify(ctx))
	s.cycles.Wait()

	st := s.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Failures)
	require.NotNil(t, st.LastResult)

	var execErr *SyncExecutionError
	require.ErrorAs(t, st.LastResult.Err, &execErr)
	assert.ErrorIs(t, st.LastResult.Err, errExit)
	assert.Equal(t, "Failed to copy: 401 Unauthorized", execErr.Output)

	// No retry without a new signal.
	assert.Len(t, exec.Calls(), 1)

	fail.Store(false)
	require.True(t, s.Notify(ctx), "session must re-arm after a failed sync")
	s.cycles.Wait()

	st = s.Status()
	assert.Equal(t, 2, st.Runs)
	assert.Equal(t, 1, st.Failures)
	assert.True(t, st.LastResult.Success())

	results := sink.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "run-1", results[0].RunID)
	assert.False(t, results[0].Success())
	assert.Equal(t, "run-2", results[1].RunID)
	assert.True(t, results[1].Success())
}

func TestSession_SinkErrorIgnored(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	exec := &recordingExecutor{clock: clk}
	sink := &recordingSink{err: errors.New("database is locked")}
	s := newClockedSession(t, SessionConfig{Executor: exec, Sink: sink}, clk)

	require.True(t, s.Notify(context.Background()))
	s.cycles.Wait()

	assert.Len(t, sink.Results(), 1)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Status().Failures)
}

func TestSession_SignalDuringSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		resync    bool
		wantCalls []time.Duration
	}{
		{
			name:      "default waits for the next signal",
			resync:    false,
			wantCalls: []time.Duration{5 * time.Second},
		},
		{
			name:   "resync after change schedules a follow-up",
			resync: true,
			// First sync at 5s, signal at 6s during the sync, follow-up at 11s.
			wantCalls: []time.Duration{5 * time.Second, 11 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			clk := newFakeClock()

			var s *Session

			var calls atomic.Int32

			exec := &recordingExecutor{clock: clk, fn: func(context.Context) (string, error) {
				if calls.Add(1) == 1 {
					clk.Advance(time.Second)
					assert.False(t, s.Notify(ctx))
				}

				return "ok", nil
			}}

			s = newClockedSession(t, SessionConfig{
				Executor:          exec,
				ResyncAfterChange: tt.resync,
			}, clk)

			require.True(t, s.Notify(ctx))
			s.cycles.Wait()

			got := make([]time.Duration, 0, len(exec.Calls()))
			for _, c := range exec.Calls() {
				got = append(got, c.at)
			}

			assert.Equal(t, tt.wantCalls, got)
			assert.Equal(t, clk.base.Add(6*time.Second), s.LastActivity())
			assert.Equal(t, StateIdle, s.State())
		})
	}
}

func TestSession_CancelDuringDebounce(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	s, err := NewSession(SessionConfig{
		Root:         "/data/photos",
		Executor:     exec,
		QuietPeriod:  time.Hour,
		PollInterval: 10 * time.Millisecond,
		Logger:       testLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.Notify(ctx))

	cancel()
	s.cycles.Wait()

	assert.Empty(t, exec.Calls())
	assert.Equal(t, StateIdle, s.State())

	// An abandoned wait clears the flag.
	ctx2, cancel2 := context.WithCancel(context.Background())
	require.True(t, s.Notify(ctx2))
	cancel2()
	s.cycles.Wait()
}

func TestSession_Run(t *testing.T) {
	t.Parallel()

	done := make(chan struct{}, 1)
	exec := &recordingExecutor{fn: func(context.Context) (string, error) {
		done <- struct{}{}
		return "ok", nil
	}}

	root := filepath.Join(t.TempDir(), "root")
	s, err := NewSession(SessionConfig{
		Root:         root,
		Executor:     exec,
		QuietPeriod:  20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       testLogger(t),
	})
	require.NoError(t, err)

	signals := make(chan ChangeSignal, 4)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.Run(context.Background(), signals)
	}()

	signals <- ChangeSignal{At: time.Now()}
	signals <- ChangeSignal{At: time.Now()}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never ran")
	}

	close(signals)

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the signal stream closed")
	}

	assert.Len(t, exec.Calls(), 1)
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.Notify(context.Background()), "stopped session must not arm")
}

func TestSession_RunCancelWaitsForSync(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})

	var sawCancel atomic.Bool

	exec := &recordingExecutor{fn: func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)

		return "", ctx.Err()
	}}

	s, err := NewSession(SessionConfig{
		Root:         "/data/photos",
		Executor:     exec,
		QuietPeriod:  10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       testLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan ChangeSignal, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.Run(ctx, signals)
	}()

	signals <- ChangeSignal{}
	<-started
	cancel()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, sawCancel.Load(), "Run must wait for the in-progress sync")
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, s.Status().Failures)
}
