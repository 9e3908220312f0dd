// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestMonitorEmitsCurrentStateOnSubscribe(t *testing.T) {
	m := NewMonitor(true, nil, clockwork.NewFakeClock())

	var got []bool
	unsubscribe := m.Subscribe(func(online bool) {
		got = append(got, online)
	})
	defer unsubscribe()

	require.Equal(t, []bool{true}, got)
}

func TestMonitorNotifiesEveryTransition(t *testing.T) {
	m := NewMonitor(false, nil, clockwork.NewFakeClock())

	var got []bool
	unsubscribe := m.Subscribe(func(online bool) {
		got = append(got, online)
	})
	defer unsubscribe()

	m.Report(true)
	m.Report(false)
	m.Report(true)

	require.Equal(t, []bool{false, true, false, true}, got)
	require.True(t, m.Current())
}

func TestMonitorIgnoresRepeatedState(t *testing.T) {
	m := NewMonitor(false, nil, clockwork.NewFakeClock())

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })
	defer unsubscribe()

	m.Report(false)
	m.Report(false)
	require.Equal(t, 1, calls) // only the subscribe-time emission
}

func TestMonitorUnsubscribeStopsNotifications(t *testing.T) {
	m := NewMonitor(false, nil, clockwork.NewFakeClock())

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })
	unsubscribe()

	m.Report(true)
	require.Equal(t, 1, calls)
}

func TestMonitorLastTransition(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMonitor(false, nil, clock)

	start := m.LastTransition()
	clock.Advance(10 * time.Second)
	m.Report(true)

	require.Equal(t, start.Add(10*time.Second), m.LastTransition())
}
