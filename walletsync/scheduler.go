// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/candlewallet/go-offsync/offstore"
)

// Summary reports one sync pass: operations confirmed, operations that
// failed during the pass, and operations still durably pending afterwards.
type Summary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// SchedulerConfig holds the replay timing knobs.
type SchedulerConfig struct {
	AttemptTimeout time.Duration // per replay attempt; spec recommends 10-30s
	BackoffMin     time.Duration // initial delay between failed passes
	BackoffMax     time.Duration // backoff ceiling
	WakeInterval   time.Duration // periodic background wake
	MinPassGap     time.Duration // coalesces connectivity flapping
}

// DefaultSchedulerConfig returns the stock timing configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		AttemptTimeout: 15 * time.Second,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
		WakeInterval:   5 * time.Minute,
		MinPassGap:     1 * time.Second,
	}
}

// Scheduler drains the operation queue against the real network. Replay is
// strictly FIFO, one operation at a time, and a pass stops at the first
// recoverable failure so nothing is reordered around it.
type Scheduler struct {
	queue     *offstore.Queue
	transport Transport
	monitor   *Monitor
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       SchedulerConfig

	// OnTerminal is invoked when the remote endpoint rejects an operation on
	// its merits. The record has already been removed from the queue; product
	// code decides how to tell the user.
	OnTerminal func(op offstore.Operation, err error)

	passMu   sync.Mutex // one pass at a time, by design
	stateMu  sync.Mutex
	backoff  time.Duration
	lastPass time.Time
	wake     chan struct{}
}

// NewScheduler wires a scheduler over queue, transport and monitor.
func NewScheduler(queue *offstore.Queue, transport Transport, monitor *Monitor, cfg SchedulerConfig, logger *slog.Logger, clock clockwork.Clock) (*Scheduler, error) {
	if queue == nil || transport == nil || monitor == nil {
		return nil, errors.New("queue, transport and monitor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultSchedulerConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = def.WakeInterval
	}
	if cfg.MinPassGap <= 0 {
		cfg.MinPassGap = def.MinPassGap
	}
	return &Scheduler{
		queue:     queue,
		transport: transport,
		monitor:   monitor,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		backoff:   cfg.BackoffMin,
		wake:      make(chan struct{}, 1),
	}, nil
}

// Start launches the background drain loop and subscribes to connectivity
// transitions. It returns immediately; the loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	unsubscribe := s.monitor.Subscribe(func(online bool) {
		if online {
			s.Kick()
		}
	})

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-s.clock.After(s.cfg.WakeInterval):
			}

			if !s.monitor.Current() {
				continue
			}
			// Coalesce rapid flapping: skip triggers arriving hot on the
			// heels of the previous pass.
			if s.sinceLastPass() < s.cfg.MinPassGap {
				continue
			}

			summary, err := s.TriggerSync(ctx)
			if err != nil {
				s.logger.Warn("sync pass failed", "error", err)
			}
			if summary.Failed > 0 {
				if err := sleepWithClock(ctx, s.clock, s.nextBackoff()); err != nil {
					return
				}
			}
		}
	}()
}

// Kick requests an immediate drain without blocking.
func (s *Scheduler) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TriggerSync runs one sync pass and reports what happened. Passes are
// serialized; concurrent callers queue behind the running one. When the
// monitor says offline, the pass is skipped and only pending counts are
// reported.
func (s *Scheduler) TriggerSync(ctx context.Context) (Summary, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.markPass()

	var summary Summary
	if !s.monitor.Current() {
		return s.withPendingCount(ctx, summary)
	}

	ops, err := s.queue.ListPending(ctx)
	if err != nil {
		return summary, err
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := s.queue.MarkProcessing(ctx, op.ID); err != nil {
			return s.withPendingCount(ctx, summary)
		}

		status, rerr := s.replayOne(ctx, &op)
		switch status {
		case ReplayApplied:
			if err := s.queue.MarkCompleted(ctx, op.ID); err != nil {
				return s.withPendingCount(ctx, summary)
			}
			summary.Completed++
			s.logger.Debug("operation replayed", "id", op.ID, "attempts", op.Attempts+1)

		case ReplayTerminal:
			// Not retried automatically: remove and surface to the product
			// layer. Still stop the pass; anything behind this operation may
			// have depended on it.
			if err := s.queue.Delete(ctx, op.ID); err != nil {
				return s.withPendingCount(ctx, summary)
			}
			summary.Failed++
			s.logger.Warn("operation rejected by remote", "id", op.ID, "error", rerr)
			if s.OnTerminal != nil {
				s.OnTerminal(op, rerr)
			}
			return s.withPendingCount(ctx, summary)

		default: // ReplayRetryable
			// Re-queue and stop the whole remaining batch; replaying later
			// operations around a failure risks inconsistent remote state.
			if err := s.queue.MarkFailed(ctx, op.ID, rerr); err != nil {
				return s.withPendingCount(ctx, summary)
			}
			summary.Failed++
			s.logger.Debug("operation replay failed, re-queued", "id", op.ID, "error", rerr)
			return s.withPendingCount(ctx, summary)
		}
	}

	s.resetBackoff()
	return s.withPendingCount(ctx, summary)
}

func (s *Scheduler) replayOne(ctx context.Context, op *offstore.Operation) (ReplayStatus, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	return s.transport.Replay(attemptCtx, op)
}

func (s *Scheduler) withPendingCount(ctx context.Context, summary Summary) (Summary, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return summary, err
	}
	summary.Pending = stats.Pending + stats.Processing
	return summary, nil
}

func (s *Scheduler) markPass() {
	s.stateMu.Lock()
	s.lastPass = s.clock.Now()
	s.stateMu.Unlock()
}

func (s *Scheduler) sinceLastPass() time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.lastPass.IsZero() {
		return s.cfg.MinPassGap
	}
	return s.clock.Now().Sub(s.lastPass)
}

// nextBackoff returns the current delay and doubles it, bounded by
// BackoffMax.
func (s *Scheduler) nextBackoff() time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	d := s.backoff
	s.backoff *= 2
	if s.backoff > s.cfg.BackoffMax {
		s.backoff = s.cfg.BackoffMax
	}
	return d
}

func (s *Scheduler) resetBackoff() {
	s.stateMu.Lock()
	s.backoff = s.cfg.BackoffMin
	s.stateMu.Unlock()
}

func sleepWithClock(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
