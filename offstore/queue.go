// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Status is the lifecycle state of a queued operation. Completed operations
// are removed from the store rather than persisted; a failed replay reverts
// the record to StatusPending, so only Pending and Processing are ever
// durable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Operation is one user-submitted write captured for later replay. Payload
// holds the exact bytes needed to resubmit it and is never mutated after
// enqueue; only Status, Attempts and LastError change.
type Operation struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// QueueStats summarizes the durable queue for foreground UI use.
type QueueStats struct {
	Pending    int
	Processing int
}

// Queue is the durable FIFO list of pending write operations. Replay order
// is strictly insertion order, one operation at a time, so server-side
// sequence constraints hold.
type Queue struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewQueue builds a queue over store. Records left in StatusProcessing by a
// crashed previous run are reverted to StatusPending so they are retried
// rather than stranded.
func NewQueue(ctx context.Context, store Store, logger *slog.Logger, clock clockwork.Clock) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	q := &Queue{store: store, clock: clock, logger: logger}

	if err := q.recoverInFlight(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) recoverInFlight(ctx context.Context) error {
	records, err := q.store.List(ctx, PartitionQueue)
	if err != nil {
		return fmt.Errorf("failed to list queue for recovery: %w", err)
	}
	for _, rec := range records {
		var op Operation
		if err := json.Unmarshal(rec.Value, &op); err != nil {
			q.logger.Error("unreadable queue record retained", "key", rec.Key, "error", err)
			continue
		}
		if op.Status != StatusProcessing {
			continue
		}
		op.Status = StatusPending
		if err := q.put(ctx, &op); err != nil {
			return err
		}
		q.logger.Warn("recovered in-flight operation after restart", "id", op.ID)
	}
	return nil
}

// Enqueue durably records payload for later replay and returns the new
// operation id. One call produces exactly one record. Failure to enqueue is
// surfaced to the caller synchronously; a financial write must never be
// dropped silently.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	op := Operation{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
		Status:     StatusPending,
	}
	if err := q.put(ctx, &op); err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}
	q.logger.Debug("operation enqueued", "id", op.ID, "bytes", len(payload))
	return op.ID, nil
}

// ListPending returns pending operations in enqueue (FIFO) order.
func (q *Queue) ListPending(ctx context.Context) ([]Operation, error) {
	return q.list(ctx, StatusPending)
}

func (q *Queue) list(ctx context.Context, status Status) ([]Operation, error) {
	records, err := q.store.List(ctx, PartitionQueue)
	if err != nil {
		return nil, err
	}
	var ops []Operation
	for _, rec := range records {
		var op Operation
		if err := json.Unmarshal(rec.Value, &op); err != nil {
			q.logger.Error("skipping unreadable queue record", "key", rec.Key, "error", err)
			continue
		}
		if status == "" || op.Status == status {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// Get returns a single operation by id.
func (q *Queue) Get(ctx context.Context, id string) (*Operation, error) {
	raw, err := q.store.Get(ctx, PartitionQueue, id)
	if err != nil {
		return nil, err
	}
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation %s: %w", id, err)
	}
	return &op, nil
}

// MarkProcessing transitions an operation to StatusProcessing before a
// replay attempt.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	op, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	op.Status = StatusProcessing
	return q.put(ctx, op)
}

// MarkCompleted removes a confirmed operation from the queue.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.store.Delete(ctx, PartitionQueue, id)
}

// MarkFailed reverts an operation to StatusPending after a recoverable
// replay failure, incrementing its attempt count. The record is re-queued,
// never lost.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	op, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	op.Status = StatusPending
	op.Attempts++
	if cause != nil {
		op.LastError = cause.Error()
	}
	return q.put(ctx, op)
}

// Delete removes an operation regardless of status. Used for terminal
// rejections that will never be retried.
func (q *Queue) Delete(ctx context.Context, id string) error {
	return q.store.Delete(ctx, PartitionQueue, id)
}

// Stats counts durable records by status.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	ops, err := q.list(ctx, "")
	if err != nil {
		return QueueStats{}, err
	}
	var stats QueueStats
	for _, op := range ops {
		switch op.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		}
	}
	return stats, nil
}

func (q *Queue) put(ctx context.Context, op *Operation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation %s: %w", op.ID, err)
	}
	return q.store.Put(ctx, PartitionQueue, op.ID, raw)
}
