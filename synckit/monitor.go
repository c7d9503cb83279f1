package synckit

import (
	"context"
	"errors"
	"sync"
	"time"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
)

// DefaultSyncInterval is the period of scheduled runs while online.
const DefaultSyncInterval = 120 * time.Second

// ConnectivitySource reports whether the remote store is reachable.
// Transitions delivers the new state on every change; it may be nil when the
// source never changes.
type ConnectivitySource interface {
	IsOnline() bool
	Transitions() <-chan bool
}

// Runner performs one sync run. *Manager is the usual implementation.
type Runner interface {
	RunAll(ctx context.Context) *SyncResult
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor) error

func WithSyncInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) error {
		if d <= 0 {
			return errors.New("sync interval must be positive")
		}
		m.interval = d
		return nil
	}
}

func WithMonitorLogger(l *logging.Logger) MonitorOption {
	return func(m *Monitor) error {
		m.logger = l
		return nil
	}
}

// WithResultHandler is called with the result of every run the monitor
// starts on its own.
func WithResultHandler(fn func(*SyncResult)) MonitorOption {
	return func(m *Monitor) error {
		m.onResult = fn
		return nil
	}
}

// Monitor triggers sync runs on a fixed interval while online and
// immediately when connectivity comes back. It never runs while offline.
type Monitor struct {
	runner   Runner
	source   ConnectivitySource
	interval time.Duration
	logger   *logging.Logger
	onResult func(*SyncResult)

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewMonitor(runner Runner, source ConnectivitySource, opts ...MonitorOption) (*Monitor, error) {
	if runner == nil {
		return nil, syncErrors.NewConfigError(errors.New("runner is required"))
	}
	if source == nil {
		return nil, syncErrors.NewConfigError(errors.New("connectivity source is required"))
	}
	m := &Monitor{runner: runner, source: source, interval: DefaultSyncInterval}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, syncErrors.NewConfigError(err)
		}
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	m.logger = m.logger.WithComponent("monitor")
	return m, nil
}

// Start launches the monitoring goroutine. It stops when ctx is done or
// Stop is called; after either the monitor can be started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.stop != nil {
		return syncErrors.New(syncErrors.OpRun, errors.New("monitor is already running"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.done, m.cancel = stop, done, cancel

	go m.loop(runCtx, stop, done)
	m.logger.Info("Connectivity monitor started", "interval", m.interval, "online", m.source.IsOnline())
	return nil
}

func (m *Monitor) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	transitions := m.source.Transitions()
	for {
		select {
		case <-ctx.Done():
			m.release(stop)
			m.logger.Info("Connectivity monitor stopped", "reason", ctx.Err().Error())
			return
		case <-stop:
			return
		case online, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if online {
				m.logger.Info("Connectivity restored, requesting sync")
				m.dispatch(ctx)
			} else {
				m.logger.Info("Connectivity lost")
			}
		case <-ticker.C:
			if !m.source.IsOnline() {
				m.logger.Debug("Scheduled sync skipped while offline")
				continue
			}
			m.dispatch(ctx)
		}
	}
}

// release clears the running state if it still belongs to the loop that
// owns stop. Stop clears it itself before waiting.
func (m *Monitor) release(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != stop {
		return
	}
	m.cancel()
	m.stop, m.done, m.cancel = nil, nil, nil
}

func (m *Monitor) dispatch(ctx context.Context) {
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		result := m.runner.RunAll(ctx)
		if m.onResult != nil && result != nil {
			m.onResult(result)
		}
	}()
}

// Stop halts the timer, cancels runs the monitor started and waits for them.
// Stopping a monitor that is not running is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done, cancel := m.stop, m.done, m.cancel
	m.stop, m.done, m.cancel = nil, nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	cancel()
	m.running.Wait()
	m.logger.Info("Connectivity monitor stopped")
}

// RequestSync runs a sync now unless offline, in which case it returns a
// skipped result carrying ErrOfflineSkipped.
func (m *Monitor) RequestSync(ctx context.Context) *SyncResult {
	if !m.source.IsOnline() {
		m.logger.Info("Sync request skipped while offline")
		return skippedResult(syncErrors.ErrOfflineSkipped)
	}
	return m.runner.RunAll(ctx)
}
