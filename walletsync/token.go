// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package walletsync

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuth mints and validates the HS256 device session tokens the replay
// transport attaches to outbound requests.
type TokenAuth struct {
	secret []byte
}

// NewTokenAuth creates a token authority from a shared secret.
func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret)}
}

// sessionClaims carries the wallet id in the standard sub claim and the
// device id in a custom claim.
type sessionClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// Issue mints a session token for walletID on deviceID, valid for ttl.
func (a *TokenAuth) Issue(walletID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-offsync",
			Subject:   walletID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses a session token and returns the wallet and device ids.
func (a *TokenAuth) Validate(tokenString string) (walletID, deviceID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("missing sub (wallet ID) in token")
	}
	if claims.DeviceID == "" {
		return "", "", fmt.Errorf("missing did (device ID) in token")
	}
	return claims.Subject, claims.DeviceID, nil
}

// TokenFunc returns a TokenFunc that mints a fresh session token per replay
// request, suitable for HTTPTransport.
func (a *TokenAuth) TokenFunc(walletID, deviceID string, ttl time.Duration) TokenFunc {
	return func(ctx context.Context) (string, error) {
		return a.Issue(walletID, deviceID, ttl)
	}
}
