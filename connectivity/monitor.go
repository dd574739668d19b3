// Package connectivity tracks whether the remote backend is reachable and
// tells interested components when that changes. It stands in for the
// platform online/offline signal: a periodic health probe maintains a cached
// boolean that is readable synchronously, and subscribers get a callback on
// every transition.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Prober checks backend reachability with a single cheap call.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor polls a Prober and caches the result. The cached flag is what
// every read of "are we online" consults; no component issues its own probe.
//
// The monitor starts pessimistically offline, so the first successful probe
// counts as an offline→online transition and triggers subscribers — which is
// exactly what a process restarting with a populated queue wants.
type Monitor struct {
	probe    Prober
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	checks    atomic.Int64
	failures  atomic.Int64
	lastCheck atomic.Int64 // unix seconds
	lastLatMs atomic.Int64
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the probe interval. Default: 15s.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithMonitorLogger sets the logger. Default: slog.Default().
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor over probe. Call Start to begin polling.
func NewMonitor(probe Prober, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probe:    probe,
		interval: 15 * time.Second,
		logger:   slog.Default(),
		subs:     make(map[int]func(bool)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start runs the probe loop, checking immediately and then every interval.
// It blocks until ctx is cancelled; run it in a goroutine:
//
//	go monitor.Start(ctx)
func (m *Monitor) Start(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// Online returns the cached reachability flag. False until the first
// successful probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn to run on every online/offline transition and
// returns the handle that removes it. Callbacks run on the monitor's probe
// goroutine; subscribers that do real work should hop off it.
// The returned cancel func must be called on teardown or the subscription
// leaks for the life of the monitor.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Status returns a JSON-serializable summary.
func (m *Monitor) Status() map[string]any {
	return map[string]any{
		"online":      m.Online(),
		"checks":      m.checks.Load(),
		"failures":    m.failures.Load(),
		"last_check":  m.lastCheck.Load(),
		"latency_ms":  m.lastLatMs.Load(),
		"interval_ms": m.interval.Milliseconds(),
	}
}

func (m *Monitor) check(ctx context.Context) {
	m.checks.Add(1)
	m.lastCheck.Store(time.Now().Unix())

	start := time.Now()
	err := m.probe.Health(ctx)
	latency := time.Since(start)

	if err != nil {
		m.failures.Add(1)
		m.logger.Debug("connectivity probe failed", "error", err)
		m.setOnline(false)
		return
	}
	m.lastLatMs.Store(latency.Milliseconds())
	m.setOnline(true)
}

// setOnline updates the cached flag and notifies subscribers on a change.
// Callbacks run outside the lock so a subscriber may Subscribe/cancel
// reentrantly.
func (m *Monitor) setOnline(v bool) {
	m.mu.Lock()
	if m.online == v {
		m.mu.Unlock()
		return
	}
	m.online = v
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity transition", "online", v)
	for _, fn := range fns {
		fn(v)
	}
}
