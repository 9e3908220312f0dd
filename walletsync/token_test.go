// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenAuthRoundTrip(t *testing.T) {
	auth := NewTokenAuth("test-secret")

	token, err := auth.Issue("wallet-1", "device-a", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	walletID, deviceID, err := auth.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "wallet-1", walletID)
	require.Equal(t, "device-a", deviceID)
}

func TestTokenAuthRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenAuth("secret-a").Issue("wallet-1", "device-a", time.Hour)
	require.NoError(t, err)

	_, _, err = NewTokenAuth("secret-b").Validate(token)
	require.Error(t, err)
}

func TestTokenAuthRejectsExpiredToken(t *testing.T) {
	auth := NewTokenAuth("test-secret")
	token, err := auth.Issue("wallet-1", "device-a", -time.Minute)
	require.NoError(t, err)

	_, _, err = auth.Validate(token)
	require.Error(t, err)
}

func TestTokenAuthTokenFunc(t *testing.T) {
	auth := NewTokenAuth("test-secret")
	fn := auth.TokenFunc("wallet-1", "device-a", time.Hour)

	token, err := fn(context.Background())
	require.NoError(t, err)

	walletID, _, err := auth.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "wallet-1", walletID)
}
