// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

// TTLUnbounded marks a cache entry that never expires by age. Unbounded
// entries are versioned by the cache generation instead and are swept
// wholesale after BumpGeneration.
const TTLUnbounded time.Duration = -1

// DefaultCacheTTL is deliberately short: cached financial data (balances,
// history) goes stale quickly.
const DefaultCacheTTL = time.Minute

const generationKey = "cache_generation"

// CacheConfig holds configuration for the cache layer.
type CacheConfig struct {
	DefaultTTL time.Duration // TTL applied when Put is called with ttl == 0
	HotEntries int           // size of the in-memory hot front, 0 disables it
}

// DefaultCacheConfig returns the stock cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: DefaultCacheTTL,
		HotEntries: 256,
	}
}

// cacheEntry is the persisted envelope for one cached value.
type cacheEntry struct {
	Data       []byte    `json:"data"`
	StoredAt   time.Time `json:"stored_at"`
	TTLMillis  int64     `json:"ttl_ms"` // < 0 means unbounded
	Generation string    `json:"gen,omitempty"`
}

func (e *cacheEntry) expired(now time.Time) bool {
	if e.TTLMillis < 0 {
		return false
	}
	return now.Sub(e.StoredAt) > time.Duration(e.TTLMillis)*time.Millisecond
}

// Cache is a TTL-bounded request/response cache over the durable store.
// Expiry is enforced lazily on read and eagerly by SweepExpired. A small
// in-memory LRU fronts the store for hot keys; the store stays
// authoritative.
type Cache struct {
	store      Store
	clock      clockwork.Clock
	logger     *slog.Logger
	defaultTTL time.Duration
	hot        *expirable.LRU[string, cacheEntry]

	genMu      sync.RWMutex
	generation string
}

// NewCache builds a cache over store, loading (or creating) the persisted
// cache generation id.
func NewCache(ctx context.Context, store Store, cfg CacheConfig, logger *slog.Logger, clock clockwork.Clock) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultCacheTTL
	}

	c := &Cache{
		store:      store,
		clock:      clock,
		logger:     logger,
		defaultTTL: cfg.DefaultTTL,
	}
	if cfg.HotEntries > 0 {
		c.hot = expirable.NewLRU[string, cacheEntry](cfg.HotEntries, nil, cfg.DefaultTTL)
	}

	gen, err := c.loadOrCreateGeneration(ctx)
	if err != nil {
		return nil, err
	}
	c.generation = gen
	return c, nil
}

func (c *Cache) loadOrCreateGeneration(ctx context.Context) (string, error) {
	raw, err := c.store.Get(ctx, PartitionMisc, generationKey)
	if err == nil {
		return string(raw), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("failed to load cache generation: %w", err)
	}
	gen := uuid.New().String()
	if err := c.store.Put(ctx, PartitionMisc, generationKey, []byte(gen)); err != nil {
		return "", fmt.Errorf("failed to persist cache generation: %w", err)
	}
	return gen, nil
}

// Put creates or overwrites the entry for key. ttl == 0 applies the default
// TTL; TTLUnbounded pins the entry to the current cache generation instead
// of an age limit.
func (c *Cache) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	entry := cacheEntry{
		Data:     data,
		StoredAt: c.clock.Now(),
	}
	if ttl == TTLUnbounded {
		entry.TTLMillis = -1
		entry.Generation = c.Generation()
	} else {
		entry.TTLMillis = ttl.Milliseconds()
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.store.Put(ctx, PartitionCache, key, raw); err != nil {
		return err
	}
	if c.hot != nil {
		c.hot.Add(key, entry)
	}
	return nil
}

// Get returns the cached data for key, or an error wrapping ErrNotFound if
// the entry is missing or expired. Expired entries are deleted
// opportunistically on read.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	now := c.clock.Now()

	if c.hot != nil {
		if entry, ok := c.hot.Get(key); ok && c.live(&entry, now) {
			return entry.Data, nil
		}
	}

	raw, err := c.store.Get(ctx, PartitionCache, key)
	if err != nil {
		return nil, err
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt envelope is indistinguishable from absent.
		c.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
		_ = c.store.Delete(ctx, PartitionCache, key)
		return nil, fmt.Errorf("cache get %s: %w", key, ErrNotFound)
	}

	if !c.live(&entry, now) {
		if err := c.store.Delete(ctx, PartitionCache, key); err != nil {
			c.logger.Warn("failed to delete expired cache entry", "key", key, "error", err)
		}
		if c.hot != nil {
			c.hot.Remove(key)
		}
		return nil, fmt.Errorf("cache get %s: %w", key, ErrNotFound)
	}

	if c.hot != nil {
		c.hot.Add(key, entry)
	}
	return entry.Data, nil
}

// live reports whether an entry is still servable: within TTL and, for
// unbounded entries, belonging to the current generation.
func (c *Cache) live(entry *cacheEntry, now time.Time) bool {
	if entry.expired(now) {
		return false
	}
	if entry.TTLMillis < 0 && entry.Generation != c.Generation() {
		return false
	}
	return true
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.hot != nil {
		c.hot.Remove(key)
	}
	return c.store.Delete(ctx, PartitionCache, key)
}

// SweepExpired deletes every entry past its TTL and every unbounded entry
// from a stale generation. Safe to call concurrently with reads and writes;
// a conflicting Put after the sweep's read simply wins.
func (c *Cache) SweepExpired(ctx context.Context) (removed int, err error) {
	records, err := c.store.List(ctx, PartitionCache)
	if err != nil {
		return 0, err
	}

	now := c.clock.Now()
	for _, rec := range records {
		var entry cacheEntry
		if err := json.Unmarshal(rec.Value, &entry); err != nil {
			c.logger.Warn("sweeping unreadable cache entry", "key", rec.Key, "error", err)
		} else if c.live(&entry, now) {
			continue
		}
		if err := c.store.Delete(ctx, PartitionCache, rec.Key); err != nil {
			return removed, err
		}
		if c.hot != nil {
			c.hot.Remove(rec.Key)
		}
		removed++
	}
	if removed > 0 {
		c.logger.Debug("cache sweep finished", "removed", removed)
	}
	return removed, nil
}

// Generation returns the current cache generation id.
func (c *Cache) Generation() string {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.generation
}

// BumpGeneration rotates the cache generation. Unbounded entries written
// under previous generations become absent immediately and are reclaimed by
// the next sweep.
func (c *Cache) BumpGeneration(ctx context.Context) (string, error) {
	gen := uuid.New().String()
	if err := c.store.Put(ctx, PartitionMisc, generationKey, []byte(gen)); err != nil {
		return "", fmt.Errorf("failed to persist cache generation: %w", err)
	}
	c.genMu.Lock()
	c.generation = gen
	c.genMu.Unlock()
	if c.hot != nil {
		c.hot.Purge()
	}
	c.logger.Debug("cache generation bumped", "generation", gen)
	return gen, nil
}
