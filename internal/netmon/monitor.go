// Package netmon tracks network reachability by probing the API endpoint
// periodically and notifying subscribers on state transitions. The sync
// engine consumes it read-only: [Monitor.Current] for branching decisions,
// [Monitor.OnChange] to trigger replay when connectivity returns.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultInterval is the probe cadence when the config does not override it.
const DefaultInterval = 15 * time.Second

// ProbeFunc reports whether the network is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe returns a probe that issues a HEAD request against url. Any
// completed HTTP exchange counts as reachable — a 500 from the server still
// means the network path works.
func HTTPProbe(url string, timeout time.Duration) ProbeFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

// Monitor polls a [ProbeFunc] and broadcasts reachability transitions.
// Create one with [New] and start it with [Monitor.Run].
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// New creates a Monitor. The state starts offline until the first probe in
// [Monitor.Run] completes. A zero interval means [DefaultInterval].
func New(probe ProbeFunc, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{probe: probe, interval: interval, log: logger}
}

// Current returns the most recent reachability reading.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a callback invoked on every reachability transition.
// Callbacks run on the monitor's goroutine and should return quickly.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Refresh runs one probe synchronously and returns the resulting state.
// Useful at startup, before [Monitor.Run] has produced its first reading.
func (m *Monitor) Refresh(ctx context.Context) bool {
	m.check(ctx)
	return m.Current()
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe and notifies subscribers if the state flipped.
func (m *Monitor) check(ctx context.Context) {
	online := m.probe(ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.log.Info("network reachable")
	} else {
		m.log.Warn("network unreachable")
	}
	for _, fn := range subs {
		fn(online)
	}
}
