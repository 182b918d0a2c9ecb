package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slynk-app/slynk/internal/metrics"
)

// ManagerConfig holds the settings shared by every session the Manager
// starts. The CLI layer populates it from the resolved config.
type ManagerConfig struct {
	ConfigPath        string
	Executor          Executor
	QuietPeriod       time.Duration
	PollInterval      time.Duration
	SignalBuffer      int
	ResyncAfterChange bool
	Sink              ResultSink
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// watcherFactoryFunc creates the Watcher for a root. Tests inject watchers
// backed by mock FsWatchers.
type watcherFactoryFunc func(root string, buffer int, logger *slog.Logger) (*Watcher, error)

// sessionHandle is the supervision record for one running session.
type sessionHandle struct {
	session *Session
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // watcher exit error, valid after done is closed
}

// Manager runs one independent Session per watched root. Sessions share no
// state, so syncs for different roots may overlap.
type Manager struct {
	cfg            ManagerConfig
	watcherFactory watcherFactoryFunc
	logger         *slog.Logger

	mu       gosync.Mutex
	sessions map[string]*sessionHandle
	group    errgroup.Group
}

// NewManager creates a Manager with the real fsnotify watcher factory.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:            cfg,
		watcherFactory: NewWatcher,
		logger:         cfg.Logger,
		sessions:       make(map[string]*sessionHandle),
	}
}

// Start arms a Watcher and Session for root and returns once both are
// running. A setup failure is returned as *WatchSetupError. The session runs
// until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return &WatchSetupError{Path: root, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[abs]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, abs)
	}

	sess, err := NewSession(SessionConfig{
		Root:              abs,
		ConfigPath:        m.cfg.ConfigPath,
		Executor:          m.cfg.Executor,
		QuietPeriod:       m.cfg.QuietPeriod,
		PollInterval:      m.cfg.PollInterval,
		ResyncAfterChange: m.cfg.ResyncAfterChange,
		Sink:              m.cfg.Sink,
		Metrics:           m.cfg.Metrics,
		Logger:            m.logger,
	})
	if err != nil {
		return err
	}

	w, err := m.watcherFactory(abs, m.cfg.SignalBuffer, m.logger)
	if err != nil {
		return err
	}

	w.metrics = m.cfg.Metrics

	sctx, cancel := context.WithCancel(ctx)
	h := &sessionHandle{
		session: sess,
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.sessions[abs] = h

	m.cfg.Metrics.SessionStarted()
	m.group.Go(func() error {
		return m.supervise(sctx, abs, h)
	})

	m.logger.Info("watching for changes",
		slog.String("root", abs),
		slog.Duration("quiet_period", sess.cfg.QuietPeriod),
	)

	return nil
}

// supervise runs the watcher loop and the session loop for one root. When
// either side ends, the other is told to stop.
func (m *Manager) supervise(ctx context.Context, root string, h *sessionHandle) error {
	defer close(h.done)
	defer m.cfg.Metrics.SessionStopped()
	defer h.cancel()

	var wg gosync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		h.session.Run(ctx, h.watcher.Signals())
	}()

	werr := h.watcher.Run(ctx)
	if werr != nil {
		m.logger.Error("watcher stopped", slog.String("root", root), slog.String("error", werr.Error()))
	}

	// Run closed the signal stream, which ends the session loop; cancel so a
	// pending debounce wait does not hold the session open.
	h.cancel()
	wg.Wait()

	h.err = werr

	m.mu.Lock()
	if m.sessions[root] == h {
		delete(m.sessions, root)
	}
	m.mu.Unlock()

	m.logger.Info("stopped watching", slog.String("root", root))

	if werr != nil {
		return fmt.Errorf("watching %s: %w", root, werr)
	}

	return nil
}

// Stop cancels the session for root and waits for both loops to exit.
func (m *Manager) Stop(root string) error {
	h, err := m.handle(root)
	if err != nil {
		return err
	}

	h.cancel()
	<-h.done

	return h.err
}

// Done returns a channel closed when the session for root has fully exited.
func (m *Manager) Done(root string) (<-chan struct{}, error) {
	h, err := m.handle(root)
	if err != nil {
		return nil, err
	}

	return h.done, nil
}

// Status returns a snapshot of the session for root.
func (m *Manager) Status(root string) (SessionStatus, error) {
	h, err := m.handle(root)
	if err != nil {
		return SessionStatus{}, err
	}

	return h.status(), nil
}

// Statuses returns snapshots of all running sessions sorted by root.
func (m *Manager) Statuses() []SessionStatus {
	m.mu.Lock()
	handles := make([]*sessionHandle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := make([]SessionStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.status())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Root < out[j].Root
	})

	return out
}

// Wait blocks until every session has exited and returns the first watcher
// failure, if any.
func (m *Manager) Wait() error {
	return m.group.Wait()
}

// Shutdown stops every session and waits for them to exit.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	for _, h := range m.sessions {
		h.cancel()
	}
	m.mu.Unlock()

	err := m.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (m *Manager) handle(root string) (*sessionHandle, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, root)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sessions[abs]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, abs)
	}

	return h, nil
}

func (h *sessionHandle) status() SessionStatus {
	st := h.session.Status()
	st.Dropped = h.watcher.Dropped()

	return st
}
