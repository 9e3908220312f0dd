// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import "errors"

var (
	// ErrNetworkUnavailable marks a transient network failure; the operation
	// stays queued and is retried on a later sync pass.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrRemoteRejected marks a semantic rejection by the remote endpoint
	// (business-rule violation). It is terminal: the operation is not retried
	// automatically and is surfaced to the foreground context.
	ErrRemoteRejected = errors.New("remote endpoint rejected operation")

	// ErrReplayTimeout marks a replay attempt that exceeded its per-attempt
	// timeout. Treated exactly like ErrNetworkUnavailable.
	ErrReplayTimeout = errors.New("replay attempt timed out")
)
