// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/candlewallet/go-offsync/offstore"
)

// ReplayStatus classifies the outcome of one replay attempt. The scheduler
// keeps retryable operations queued and disposes of terminal ones; which of
// the two a given failure is belongs here, not in the scheduler.
type ReplayStatus int

const (
	// ReplayApplied means the remote endpoint confirmed the operation.
	ReplayApplied ReplayStatus = iota
	// ReplayRetryable means the attempt failed transiently (network error,
	// timeout, 5xx); the operation stays queued.
	ReplayRetryable
	// ReplayTerminal means the remote endpoint rejected the operation on its
	// merits; retrying will not help.
	ReplayTerminal
)

// Transport resubmits a captured operation to its original destination.
type Transport interface {
	Replay(ctx context.Context, op *offstore.Operation) (ReplayStatus, error)
}

// TokenFunc supplies a bearer token for outbound replay requests.
type TokenFunc func(ctx context.Context) (string, error)

// CapturedRequest is the replayable envelope persisted for a write captured
// by the interceptor: enough metadata to resubmit it verbatim later.
type CapturedRequest struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
}

// HTTPTransport replays operations over HTTP. Payloads that decode as a
// CapturedRequest are resubmitted verbatim to their original destination;
// anything else is treated as an opaque operation body and posted to
// SubmitURL (the "submit operation" collaborator endpoint).
type HTTPTransport struct {
	client    *http.Client
	submitURL string
	token     TokenFunc
	logger    *slog.Logger
}

// NewHTTPTransport builds the default transport. client may be nil; token
// may be nil when the endpoint needs no authentication.
func NewHTTPTransport(client *http.Client, submitURL string, token TokenFunc, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		client:    client,
		submitURL: submitURL,
		token:     token,
		logger:    logger,
	}
}

// Replay resubmits op. Per-attempt timeouts are applied by the caller via
// ctx; a deadline hit maps to ErrReplayTimeout and stays retryable.
func (t *HTTPTransport) Replay(ctx context.Context, op *offstore.Operation) (ReplayStatus, error) {
	method, url, header, body, err := t.destination(op)
	if err != nil {
		return ReplayTerminal, fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return ReplayTerminal, fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.token != nil {
		token, err := t.token(ctx)
		if err != nil {
			return ReplayRetryable, fmt.Errorf("failed to get token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ReplayRetryable, fmt.Errorf("%w: %v", ErrReplayTimeout, err)
		}
		return ReplayRetryable, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ReplayApplied, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return ReplayRetryable, fmt.Errorf("%w: server returned status %d", ErrNetworkUnavailable, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ReplayTerminal, fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, resp.StatusCode, string(snippet))
	}
}

// destination resolves where and how to resubmit op. A payload that is not a
// captured request envelope was enqueued directly by the application and
// goes to the submit endpoint as-is.
func (t *HTTPTransport) destination(op *offstore.Operation) (method, url string, header http.Header, body []byte, err error) {
	var captured CapturedRequest
	if json.Unmarshal(op.Payload, &captured) == nil && captured.Method != "" && captured.URL != "" {
		return captured.Method, captured.URL, captured.Header, captured.Body, nil
	}
	if t.submitURL == "" {
		return "", "", nil, nil, fmt.Errorf("operation %s has no destination and no submit URL is configured", op.ID)
	}
	return http.MethodPost, t.submitURL, nil, op.Payload, nil
}
