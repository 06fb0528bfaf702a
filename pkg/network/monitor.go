// Package network tracks whether the device can reach the presence server.
package network

import (
	"context"
	"errors"
	"sync"
	"time"

	customlog "github.com/open-teleop/presence/pkg/log"
)

// DefaultInterval is used when a monitor is created without a probe interval.
const DefaultInterval = 2 * time.Second

// ErrNotRegistered is returned by Unregister when no callback is registered.
var ErrNotRegistered = errors.New("reachability callback not registered")

// Monitor polls a Prober and reports reachability transitions to a single
// registered callback. The callback runs on the monitor goroutine.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   customlog.Logger

	mu        sync.Mutex
	reachable bool
	known     bool
	callback  func(bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. The device counts as unreachable until the
// first probe completes.
func NewMonitor(prober Prober, interval time.Duration, logger customlog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = customlog.Discard()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
	}
}

// Start probes once immediately and then on every interval until ctx is done
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Infof("Reachability monitor started, probing every %v", m.interval)
}

// Stop halts probing and waits for the probe goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Infof("Reachability monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	reachable := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	m.Update(reachable)
}

// IsReachable returns the last known state without probing.
func (m *Monitor) IsReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Register sets the transition callback, replacing any previous one.
func (m *Monitor) Register(callback func(reachable bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// Unregister removes the callback. It returns ErrNotRegistered if none is set.
func (m *Monitor) Unregister() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callback == nil {
		return ErrNotRegistered
	}
	m.callback = nil
	return nil
}

// Update records a probe result. The callback fires on the first result and
// on every change after that.
func (m *Monitor) Update(reachable bool) {
	m.mu.Lock()
	changed := !m.known || m.reachable != reachable
	m.known = true
	m.reachable = reachable
	callback := m.callback
	m.mu.Unlock()

	if !changed {
		return
	}
	if reachable {
		m.logger.Infof("Network reachable")
	} else {
		m.logger.Warnf("Network unreachable")
	}
	if callback != nil {
		callback(reachable)
	}
}
