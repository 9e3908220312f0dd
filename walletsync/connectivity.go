// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Monitor tracks network reachability and notifies subscribers on every
// transition. It holds no opinion about flap coalescing; the scheduler
// enforces a minimum gap between sync passes instead, so no transition is
// ever swallowed here.
type Monitor struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu         sync.Mutex
	online     bool
	lastChange time.Time
	subs       map[int]func(online bool)
	nextSub    int
}

// NewMonitor creates a monitor seeded with an initial reachability state.
func NewMonitor(initialOnline bool, logger *slog.Logger, clock clockwork.Clock) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		clock:      clock,
		logger:     logger,
		online:     initialOnline,
		lastChange: clock.Now(),
		subs:       make(map[int]func(bool)),
	}
}

// Current returns the last observed reachability state.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastTransition returns when the state last changed.
func (m *Monitor) LastTransition() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// Report feeds a platform connectivity signal into the monitor. Subscribers
// are notified synchronously, outside the monitor lock, on every transition.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.lastChange = m.clock.Now()
	callbacks := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("connectivity transition", "online", online)
	for _, fn := range callbacks {
		fn(online)
	}
}

// Subscribe registers a callback for reachability transitions and returns an
// unsubscribe function. The current state is emitted immediately so no
// transition is missed during the unsubscribed gap.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.online
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// StartProbing polls probe at the given interval until ctx is cancelled,
// feeding each result through Report. Optional; platforms with native
// reachability events can call Report directly instead.
func (m *Monitor) StartProbing(ctx context.Context, probe func(ctx context.Context) bool, interval time.Duration) {
	if probe == nil || interval <= 0 {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(interval):
				m.Report(probe(ctx))
			}
		}
	}()
}
