// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

// Package offstore provides the durable local storage layer for the
// offline-first wallet runtime: a partitioned key/value store that survives
// process restarts, a TTL-bounded response cache, and a FIFO queue of
// pending write operations. Both wallet execution contexts (the foreground
// app and the background interceptor) share one Store; they never share
// memory, all coordination happens through it.
package offstore

import (
	"context"
	"errors"
)

// Logical partitions. Cache and queue never alias each other's keys;
// misc holds wallet/session scoped key-values unrelated to sync.
const (
	PartitionCache = "cache"
	PartitionQueue = "queue"
	PartitionMisc  = "misc"
)

var (
	// ErrNotFound is returned when a key is absent from a partition.
	ErrNotFound = errors.New("offstore: key not found")

	// ErrStoreUnavailable is returned when the underlying storage is
	// inaccessible (quota exceeded, corruption, closed handle). Callers must
	// degrade to network-only operation, never crash.
	ErrStoreUnavailable = errors.New("offstore: store unavailable")
)

// Record is a single key/value pair returned by List.
type Record struct {
	Key   string
	Value []byte
}

// Store is a persistent, partitioned key/value store. All operations are
// atomic at single-key granularity; no multi-key transactions are assumed.
// Implementations must be safe for concurrent use from independent
// processes or goroutines.
type Store interface {
	// Put creates or overwrites the value for key within partition.
	Put(ctx context.Context, partition, key string, value []byte) error

	// Get returns the value for key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, partition, key string) ([]byte, error)

	// Delete removes key from partition. Deleting an absent key is not an error.
	Delete(ctx context.Context, partition, key string) error

	// List returns all records in a partition in insertion order.
	// Overwriting an existing key keeps its original position.
	List(ctx context.Context, partition string) ([]Record, error)

	// Count returns the number of records in a partition.
	Count(ctx context.Context, partition string) (int, error)

	// Close releases the underlying storage handle.
	Close() error
}
