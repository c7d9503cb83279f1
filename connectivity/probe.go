package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/synckit"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProbeStatus is a point-in-time view of the probe.
type ProbeStatus struct {
	Online              bool
	LastChecked         time.Time
	LastOnline          time.Time
	ConsecutiveFailures int
	Error               error
}

// ProbeOption configures a HealthProbe.
type ProbeOption func(*HealthProbe)

func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *HealthProbe) { p.interval = d }
}

func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *HealthProbe) { p.timeout = d }
}

// WithProbeClient replaces the HTTP client, e.g. one carrying TLS settings.
func WithProbeClient(c *http.Client) ProbeOption {
	return func(p *HealthProbe) { p.client = c }
}

func WithProbeLogger(l *logging.Logger) ProbeOption {
	return func(p *HealthProbe) { p.logger = l }
}

// HealthProbe polls GET {base}/health and reports the remote as online while
// it answers 2xx.
type HealthProbe struct {
	*Switch

	url      string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	status ProbeStatus
	cancel context.CancelFunc
	done   chan struct{}
}

var _ synckit.ConnectivitySource = (*HealthProbe)(nil)

// NewHealthProbe creates a probe that starts offline until the first check.
func NewHealthProbe(baseURL string, opts ...ProbeOption) (*HealthProbe, error) {
	if baseURL == "" {
		return nil, syncErrors.NewConfigError(errors.New("probe base URL is required"))
	}
	p := &HealthProbe{
		Switch:   NewSwitch(false),
		url:      strings.TrimRight(baseURL, "/") + "/health",
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 || p.timeout <= 0 {
		return nil, syncErrors.NewConfigError(errors.New("probe interval and timeout must be positive"))
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	p.logger = p.logger.WithComponent("probe")
	return p, nil
}

// Start checks once synchronously and then polls in the background until
// ctx is done or Stop is called.
func (p *HealthProbe) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return errors.New("health probe already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.Check(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (p *HealthProbe) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Check performs one probe, updates the state and returns it.
func (p *HealthProbe) Check(ctx context.Context) bool {
	err := p.ping(ctx)
	if ctx.Err() != nil {
		// Shutting down says nothing about the remote.
		return p.IsOnline()
	}

	now := time.Now()
	online := err == nil

	p.mu.Lock()
	p.status.LastChecked = now
	p.status.Online = online
	p.status.Error = err
	if online {
		p.status.LastOnline = now
		p.status.ConsecutiveFailures = 0
	} else {
		p.status.ConsecutiveFailures++
	}
	p.mu.Unlock()

	if p.Set(online) {
		if online {
			p.logger.Info("Remote store reachable", slog.String("url", p.url))
		} else {
			p.logger.Warn("Remote store unreachable",
				slog.String("url", p.url),
				slog.String("error", err.Error()))
		}
	}
	return online
}

func (p *HealthProbe) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return syncErrors.NewIOError(syncErrors.OpProbe, "", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return syncErrors.NewIOError(syncErrors.OpProbe, "", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return syncErrors.NewIOError(syncErrors.OpProbe, "", fmt.Errorf("health status %d", resp.StatusCode))
	}
	return nil
}

// Status returns the last probe outcome.
func (p *HealthProbe) Status() ProbeStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
