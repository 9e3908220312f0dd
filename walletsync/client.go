// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

// Package walletsync is the offline-first network layer of the wallet
// runtime: a per-route caching interceptor, a durable queue of transactional
// writes that failed while offline, a connectivity monitor, and a scheduler
// that replays the queue when the network returns. It guarantees at-least-
// once delivery of queued writes; idempotency is left to the receiving
// endpoint.
package walletsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/candlewallet/go-offsync/offstore"
)

// Config configures a Client. Store is the only required field.
type Config struct {
	Store  offstore.Store // required; shared durable store
	Routes Routes         // request classification

	// SubmitURL is where directly-enqueued operation payloads are POSTed on
	// replay. Interceptor-captured requests carry their own destination.
	SubmitURL string

	// TokenFunc supplies bearer tokens for replay requests (see TokenAuth).
	TokenFunc TokenFunc

	// HTTPClient backs the default fetcher and transport when set.
	HTTPClient *http.Client

	// Transport and Fetcher override the HTTP defaults, mainly for tests.
	Transport Transport
	Fetcher   Fetcher

	Cache      offstore.CacheConfig
	Scheduler  SchedulerConfig
	DynamicTTL time.Duration // cache TTL for network-first responses
	StaticTTL  time.Duration // cache TTL for cache-first responses; 0 = unbounded

	// InitialOnline seeds the connectivity monitor; Probe, when set, polls
	// reachability every ProbeInterval.
	InitialOnline bool
	Probe         func(ctx context.Context) bool
	ProbeInterval time.Duration

	// OnTerminal receives operations the remote endpoint rejected for good.
	OnTerminal func(op offstore.Operation, err error)

	// SweepInterval controls the periodic expired-entry sweep; 0 disables it.
	SweepInterval time.Duration

	Logger *slog.Logger
	Clock  clockwork.Clock
}

// DefaultConfig returns a configuration over store with stock timings.
func DefaultConfig(store offstore.Store) *Config {
	return &Config{
		Store:         store,
		Cache:         offstore.DefaultCacheConfig(),
		Scheduler:     DefaultSchedulerConfig(),
		InitialOnline: true,
		SweepInterval: 5 * time.Minute,
	}
}

// Client is the foreground-facing facade over the offline-first subsystem.
// All state shared with the background context lives in the store; the
// Client itself can be rebuilt at any time without losing queued work.
type Client struct {
	store       offstore.Store
	cache       *offstore.Cache
	queue       *offstore.Queue
	monitor     *Monitor
	interceptor *Interceptor
	scheduler   *Scheduler
	logger      *slog.Logger
	clock       clockwork.Clock
	cfg         *Config
}

// Open validates cfg and wires the subsystem together. It does not start
// background work; call Start for the drain loop and sweeps.
func Open(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("config.Store must be provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cache, err := offstore.NewCache(ctx, cfg.Store, cfg.Cache, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache layer: %w", err)
	}
	queue, err := offstore.NewQueue(ctx, cfg.Store, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open operation queue: %w", err)
	}

	monitor := NewMonitor(cfg.InitialOnline, logger, clock)

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.HTTPClient, cfg.SubmitURL, cfg.TokenFunc, logger)
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = &HTTPFetcher{Client: cfg.HTTPClient}
	}

	interceptor, err := NewInterceptor(InterceptorConfig{
		Routes:     cfg.Routes,
		DynamicTTL: cfg.DynamicTTL,
		StaticTTL:  cfg.StaticTTL,
	}, cache, queue, fetcher, logger, clock)
	if err != nil {
		return nil, err
	}

	scheduler, err := NewScheduler(queue, transport, monitor, cfg.Scheduler, logger, clock)
	if err != nil {
		return nil, err
	}
	scheduler.OnTerminal = cfg.OnTerminal
	interceptor.SetDrainHook(scheduler.Kick)

	return &Client{
		store:       cfg.Store,
		cache:       cache,
		queue:       queue,
		monitor:     monitor,
		interceptor: interceptor,
		scheduler:   scheduler,
		logger:      logger,
		clock:       clock,
		cfg:         cfg,
	}, nil
}

// Start launches the background drain loop, the optional connectivity probe
// and the periodic cache sweep. Everything stops when ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.scheduler.Start(ctx)
	c.monitor.StartProbing(ctx, c.cfg.Probe, c.cfg.ProbeInterval)

	if c.cfg.SweepInterval > 0 {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.clock.After(c.cfg.SweepInterval):
					if _, err := c.cache.SweepExpired(ctx); err != nil {
						c.logger.Warn("cache sweep failed", "error", err)
					}
				}
			}
		}()
	}
}

// Close releases the underlying store.
func (c *Client) Close() error {
	return c.store.Close()
}

// Do routes a request through the interceptor.
func (c *Client) Do(ctx context.Context, req *Request) (*Result, error) {
	return c.interceptor.Do(ctx, req)
}

// EnqueueOperation durably queues an opaque operation payload for delivery
// to the submit endpoint and returns its id. Errors surface synchronously.
func (c *Client) EnqueueOperation(ctx context.Context, payload []byte) (string, error) {
	return c.queue.Enqueue(ctx, payload)
}

// PendingOperations returns queued operations in FIFO order.
func (c *Client) PendingOperations(ctx context.Context) ([]offstore.Operation, error) {
	return c.queue.ListPending(ctx)
}

// QueueStats reports durable queue counts for UI badges.
func (c *Client) QueueStats(ctx context.Context) (offstore.QueueStats, error) {
	return c.queue.Stats(ctx)
}

// CachedValue returns the cached data for an application key, or an error
// wrapping offstore.ErrNotFound when absent or expired.
func (c *Client) CachedValue(ctx context.Context, key string) ([]byte, error) {
	return c.cache.Get(ctx, key)
}

// SetCachedValue caches data under an application key. ttl == 0 applies the
// default TTL.
func (c *Client) SetCachedValue(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.cache.Put(ctx, key, data, ttl)
}

// SweepExpiredCache removes expired and stale-generation entries now.
func (c *Client) SweepExpiredCache(ctx context.Context) (int, error) {
	return c.cache.SweepExpired(ctx)
}

// CacheGeneration returns the current static-asset cache generation.
func (c *Client) CacheGeneration() string {
	return c.cache.Generation()
}

// InvalidateStaticAssets bumps the cache generation so every unbounded entry
// becomes absent and is reclaimed by the next sweep.
func (c *Client) InvalidateStaticAssets(ctx context.Context) (string, error) {
	return c.cache.BumpGeneration(ctx)
}

// Connectivity returns the current reachability state.
func (c *Client) Connectivity() bool {
	return c.monitor.Current()
}

// SubscribeConnectivity registers a transition callback; the current state
// is emitted immediately.
func (c *Client) SubscribeConnectivity(fn func(online bool)) (unsubscribe func()) {
	return c.monitor.Subscribe(fn)
}

// ReportConnectivity feeds a platform reachability signal in.
func (c *Client) ReportConnectivity(online bool) {
	c.monitor.Report(online)
}

// TriggerSync runs one queue drain now and reports the outcome.
func (c *Client) TriggerSync(ctx context.Context) (Summary, error) {
	return c.scheduler.TriggerSync(ctx)
}

// SessionPut stores a wallet/session scoped value unrelated to sync.
func (c *Client) SessionPut(ctx context.Context, key string, value []byte) error {
	return c.store.Put(ctx, offstore.PartitionMisc, key, value)
}

// SessionGet returns a wallet/session scoped value.
func (c *Client) SessionGet(ctx context.Context, key string) ([]byte, error) {
	return c.store.Get(ctx, offstore.PartitionMisc, key)
}

// SessionDelete removes a wallet/session scoped value.
func (c *Client) SessionDelete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, offstore.PartitionMisc, key)
}
