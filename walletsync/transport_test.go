// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/candlewallet/go-offsync/offstore"
)

func capturedPayload(t *testing.T, method, url string, body []byte) []byte {
	t.Helper()
	raw, err := json.Marshal(&CapturedRequest{
		Method:     method,
		URL:        url,
		Body:       body,
		CapturedAt: time.Now(),
	})
	require.NoError(t, err)
	return raw
}

func TestHTTPTransportReplaysCapturedRequestVerbatim(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	body := []byte(`{"to":"GABC","amount":"10","memo":"rent"}`)
	op := &offstore.Operation{
		ID:      "op-1",
		Payload: capturedPayload(t, http.MethodPost, server.URL+"/api/transactions", body),
	}

	transport := NewHTTPTransport(nil, "", nil, nil)
	status, err := transport.Replay(context.Background(), op)
	require.NoError(t, err)
	require.Equal(t, ReplayApplied, status)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/api/transactions", gotPath)
	require.Equal(t, body, gotBody)
}

func TestHTTPTransportPostsOpaquePayloadToSubmitURL(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := []byte(`{"to":"X","amount":"10"}`)
	transport := NewHTTPTransport(nil, server.URL+"/api/submit", nil, nil)

	status, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: payload})
	require.NoError(t, err)
	require.Equal(t, ReplayApplied, status)
	require.Equal(t, payload, gotBody)
}

func TestHTTPTransportNoDestinationIsTerminal(t *testing.T) {
	transport := NewHTTPTransport(nil, "", nil, nil)

	status, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: []byte(`{"x":1}`)})
	require.Equal(t, ReplayTerminal, status)
	require.ErrorIs(t, err, ErrRemoteRejected)
}

func TestHTTPTransportServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(nil, server.URL, nil, nil)
	status, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: []byte(`{}`)})
	require.Equal(t, ReplayRetryable, status)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestHTTPTransportRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient balance", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	transport := NewHTTPTransport(nil, server.URL, nil, nil)
	status, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: []byte(`{}`)})
	require.Equal(t, ReplayTerminal, status)
	require.ErrorIs(t, err, ErrRemoteRejected)
	require.Contains(t, err.Error(), "insufficient balance")
}

func TestHTTPTransportConnectionFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	transport := NewHTTPTransport(nil, server.URL, nil, nil)
	status, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: []byte(`{}`)})
	require.Equal(t, ReplayRetryable, status)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestHTTPTransportTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	transport := NewHTTPTransport(nil, server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, err := transport.Replay(ctx, &offstore.Operation{ID: "op-1", Payload: []byte(`{}`)})
	require.Equal(t, ReplayRetryable, status)
	require.ErrorIs(t, err, ErrReplayTimeout)
}

func TestHTTPTransportAttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	token := func(ctx context.Context) (string, error) { return "session-token", nil }
	transport := NewHTTPTransport(nil, server.URL, token, nil)

	_, err := transport.Replay(context.Background(), &offstore.Operation{ID: "op-1", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "Bearer session-token", gotAuth)
}
