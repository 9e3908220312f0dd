// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	queue, err := NewQueue(context.Background(), store, nil, clockwork.NewFakeClock())
	require.NoError(t, err)
	return queue, store
}

func TestQueueEnqueueProducesSinglePendingRecord(t *testing.T) {
	ctx := context.Background()
	queue, store := newTestQueue(t)

	payload := []byte(`{"to":"X","amount":"10"}`)
	id, err := queue.Enqueue(ctx, payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ops, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, id, ops[0].ID)
	require.Equal(t, payload, ops[0].Payload)
	require.Equal(t, StatusPending, ops[0].Status)
	require.Zero(t, ops[0].Attempts)

	// Exactly one durable record per enqueue call.
	n, err := store.Count(ctx, PartitionQueue)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestQueueListPendingIsFIFO(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id1, err := queue.Enqueue(ctx, []byte("one"))
	require.NoError(t, err)
	id2, err := queue.Enqueue(ctx, []byte("two"))
	require.NoError(t, err)
	id3, err := queue.Enqueue(ctx, []byte("three"))
	require.NoError(t, err)

	ops, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	require.Equal(t, []string{id1, id2, id3}, []string{ops[0].ID, ops[1].ID, ops[2].ID})
}

func TestQueueStatusTransitions(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id, err := queue.Enqueue(ctx, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, queue.MarkProcessing(ctx, id))
	op, err := queue.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, op.Status)

	// Processing operations are no longer listed as pending.
	ops, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, ops)

	// A recoverable failure re-queues the record, payload intact.
	require.NoError(t, queue.MarkFailed(ctx, id, errors.New("connection refused")))
	op, err = queue.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, op.Status)
	require.Equal(t, 1, op.Attempts)
	require.Equal(t, "connection refused", op.LastError)
	require.Equal(t, []byte("payload"), op.Payload)

	require.NoError(t, queue.MarkCompleted(ctx, id))
	_, err = queue.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueueFailedOperationKeepsFIFOPosition(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id1, err := queue.Enqueue(ctx, []byte("one"))
	require.NoError(t, err)
	id2, err := queue.Enqueue(ctx, []byte("two"))
	require.NoError(t, err)

	require.NoError(t, queue.MarkProcessing(ctx, id1))
	require.NoError(t, queue.MarkFailed(ctx, id1, errors.New("timeout")))

	ops, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, id1, ops[0].ID)
	require.Equal(t, id2, ops[1].ID)
}

func TestQueueRecoversInFlightRecordsOnOpen(t *testing.T) {
	ctx := context.Background()
	queue, store := newTestQueue(t)

	id, err := queue.Enqueue(ctx, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, queue.MarkProcessing(ctx, id))

	// Simulate a crash mid-replay: a fresh queue over the same store must
	// revert the stranded record to pending.
	reopened, err := NewQueue(ctx, store, nil, clockwork.NewFakeClock())
	require.NoError(t, err)

	ops, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, id, ops[0].ID)
	require.Equal(t, StatusPending, ops[0].Status)
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id1, err := queue.Enqueue(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, queue.MarkProcessing(ctx, id1))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 1, stats.Processing)
}

func TestQueueDelete(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id, err := queue.Enqueue(ctx, []byte("rejected"))
	require.NoError(t, err)
	require.NoError(t, queue.Delete(ctx, id))

	ops, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, ops)
}
