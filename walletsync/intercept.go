// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/candlewallet/go-offsync/offstore"
)

// RouteClass is the request classification driving strategy selection.
type RouteClass int

const (
	// RouteStatic is the default class: long-lived assets served cache-first.
	RouteStatic RouteClass = iota
	// RouteDynamic covers fast-staling data (balances, history), network-first.
	RouteDynamic
	// RouteTransactional covers state-changing financial writes,
	// queue-on-failure.
	RouteTransactional
)

// Routes classifies requests by URL path prefix. Transactional takes
// precedence over dynamic, dynamic over static.
type Routes struct {
	Transactional []string
	Dynamic       []string
}

// Classify returns the route class for a captured request.
func (r Routes) Classify(req *Request) RouteClass {
	path := req.Path()
	for _, prefix := range r.Transactional {
		if strings.HasPrefix(path, prefix) {
			return RouteTransactional
		}
	}
	for _, prefix := range r.Dynamic {
		if strings.HasPrefix(path, prefix) {
			return RouteDynamic
		}
	}
	return RouteStatic
}

// Request is an application request with its body already captured. Bodies
// are single-read; NewRequest duplicates them up front so a failed network
// attempt never consumes the only copy.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest captures a request, reading body fully. A nil body is allowed.
func NewRequest(method, rawURL string, header http.Header, body io.Reader) (*Request, error) {
	req := &Request{Method: method, URL: rawURL, Header: header}
	if body != nil {
		captured, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to capture request body: %w", err)
		}
		req.Body = captured
	}
	return req, nil
}

// Path returns the URL path portion, or the raw URL when it does not parse.
func (r *Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return u.Path
}

// cacheKey is the canonical request signature: method plus normalized URL
// (fragment stripped, lowercased scheme/host).
func (r *Request) cacheKey() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.Method + " " + r.URL
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return r.Method + " " + u.String()
}

// Source says where a response came from.
type Source int

const (
	SourceNetwork Source = iota
	SourceCache
	SourceFallback
)

// Outcome is the tri-state result of an intercepted request. Callers must
// treat OutcomeQueued explicitly; it is neither a success nor a failure.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeQueued
	OutcomeFailed
)

// Response is an opaque response payload.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Result is what the interceptor hands back to the application. Response is
// always non-nil: strategies return a well-defined unavailable response
// rather than throwing.
type Result struct {
	Outcome     Outcome
	Source      Source
	Response    *Response
	OperationID string // set when Outcome == OutcomeQueued
}

// Fetcher performs the real network call.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher is the default Fetcher over net/http.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

// InterceptorConfig holds per-class cache TTLs.
type InterceptorConfig struct {
	Routes     Routes
	DynamicTTL time.Duration // TTL for network-first responses; 0 = cache default
	StaticTTL  time.Duration // TTL for cache-first responses; 0 = unbounded (generation-versioned)
}

// Interceptor routes requests to a caching strategy. It holds no persistent
// state of its own; it is a pure router over cache and queue.
type Interceptor struct {
	routes     Routes
	cache      *offstore.Cache
	queue      *offstore.Queue
	fetch      Fetcher
	clock      clockwork.Clock
	logger     *slog.Logger
	dynamicTTL time.Duration
	staticTTL  time.Duration
	kick       func() // opportunistic queue drain, wired by the client
}

// NewInterceptor wires a router over cache, queue and fetch.
func NewInterceptor(cfg InterceptorConfig, cache *offstore.Cache, queue *offstore.Queue, fetch Fetcher, logger *slog.Logger, clock clockwork.Clock) (*Interceptor, error) {
	if cache == nil || queue == nil {
		return nil, fmt.Errorf("cache and queue are required")
	}
	if fetch == nil {
		fetch = &HTTPFetcher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	staticTTL := cfg.StaticTTL
	if staticTTL == 0 {
		staticTTL = offstore.TTLUnbounded
	}
	return &Interceptor{
		routes:     cfg.Routes,
		cache:      cache,
		queue:      queue,
		fetch:      fetch,
		clock:      clock,
		logger:     logger,
		dynamicTTL: cfg.DynamicTTL,
		staticTTL:  staticTTL,
	}, nil
}

// SetDrainHook registers the opportunistic queue drain invoked after a
// transactional write succeeds live.
func (i *Interceptor) SetDrainHook(fn func()) {
	i.kick = fn
}

// Do classifies req and applies its strategy. The returned error is non-nil
// in exactly one case: a transactional write failed on the network AND could
// not be queued. Everything else resolves to a Result.
func (i *Interceptor) Do(ctx context.Context, req *Request) (*Result, error) {
	switch i.routes.Classify(req) {
	case RouteTransactional:
		return i.queueOnFailure(ctx, req)
	case RouteDynamic:
		return i.networkFirst(ctx, req), nil
	default:
		return i.cacheFirst(ctx, req), nil
	}
}

// cacheFirst serves a cache hit immediately, otherwise fetches and caches.
// Miss plus network failure resolves to the unavailable response.
func (i *Interceptor) cacheFirst(ctx context.Context, req *Request) *Result {
	key := req.cacheKey()
	if data, err := i.cache.Get(ctx, key); err == nil {
		return &Result{Outcome: OutcomeSuccess, Source: SourceCache, Response: decodeCachedResponse(data)}
	}

	resp, err := i.fetch.Fetch(ctx, req)
	if err != nil {
		i.logger.Debug("cache-first fallback", "url", req.URL, "error", err)
		return fallbackResult()
	}
	if resp.ok() {
		i.cachePut(ctx, key, resp, i.staticTTL)
	}
	return &Result{Outcome: OutcomeSuccess, Source: SourceNetwork, Response: resp}
}

// networkFirst fetches live data, caching successes; on failure it falls
// back to the cache and finally to the offline fallback payload.
func (i *Interceptor) networkFirst(ctx context.Context, req *Request) *Result {
	key := req.cacheKey()

	resp, err := i.fetch.Fetch(ctx, req)
	if err == nil {
		if resp.ok() {
			i.cachePut(ctx, key, resp, i.dynamicTTL)
		}
		return &Result{Outcome: OutcomeSuccess, Source: SourceNetwork, Response: resp}
	}

	if data, cerr := i.cache.Get(ctx, key); cerr == nil {
		i.logger.Debug("network-first served from cache", "url", req.URL)
		return &Result{Outcome: OutcomeSuccess, Source: SourceCache, Response: decodeCachedResponse(data)}
	}
	return fallbackResult()
}

// queueOnFailure attempts the live write; on failure the already-captured
// request is persisted for replay and the caller gets the queued tri-state,
// never a plain failure.
func (i *Interceptor) queueOnFailure(ctx context.Context, req *Request) (*Result, error) {
	// Any completed exchange is a live answer, even a rejection; only a
	// transport-level failure means the write could not reach the endpoint.
	resp, err := i.fetch.Fetch(ctx, req)
	if err == nil {
		if resp.ok() && i.kick != nil {
			// The network is evidently up; drain anything still queued.
			go i.kick()
		}
		return &Result{Outcome: OutcomeSuccess, Source: SourceNetwork, Response: resp}, nil
	}

	captured := CapturedRequest{
		Method:     req.Method,
		URL:        req.URL,
		Header:     req.Header,
		Body:       req.Body,
		CapturedAt: i.clock.Now(),
	}
	payload, merr := json.Marshal(&captured)
	if merr != nil {
		return fallbackResult(), fmt.Errorf("failed to capture operation: %w", merr)
	}

	id, qerr := i.queue.Enqueue(ctx, payload)
	if qerr != nil {
		// The one failure that must surface synchronously: a financial write
		// that could neither be delivered nor queued.
		return fallbackResult(), qerr
	}

	i.logger.Debug("transactional write queued", "id", id, "url", req.URL)
	return &Result{
		Outcome:     OutcomeQueued,
		Source:      SourceFallback,
		OperationID: id,
		Response:    queuedResponse(id),
	}, nil
}

func (i *Interceptor) cachePut(ctx context.Context, key string, resp *Response, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := i.cache.Put(ctx, key, data, ttl); err != nil {
		// Cache errors degrade to network-only, never propagate.
		i.logger.Warn("failed to cache response", "key", key, "error", err)
	}
}

func decodeCachedResponse(data []byte) *Response {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		// Pre-envelope entries written via SetCachedValue are raw payloads.
		return &Response{StatusCode: http.StatusOK, Body: data}
	}
	return &resp
}

func fallbackResult() *Result {
	body, _ := json.Marshal(map[string]string{
		"status": "offline",
		"error":  "service unavailable and no cached copy exists",
	})
	return &Result{
		Outcome: OutcomeFailed,
		Source:  SourceFallback,
		Response: &Response{
			StatusCode: http.StatusServiceUnavailable,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       body,
		},
	}
}

func queuedResponse(operationID string) *Response {
	body, _ := json.Marshal(map[string]string{
		"status":       "queued",
		"operation_id": operationID,
	})
	return &Response{
		StatusCode: http.StatusAccepted,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}
}
