// Package oauthstate holds the single-use CSRF state tokens issued for the
// Xero authorization redirect.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultTTL is how long a state stays valid after it is issued
	DefaultTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired states are evicted from memory
	DefaultSweepInterval = 5 * time.Minute
)

// Store issues and validates OAuth state tokens bound to a user.
//
// ValidateState returns true at most once per state: only for the user it was
// issued to and only before it expires. Any lookup removes the state.
type Store interface {
	StoreState(ctx context.Context, userID string) (string, error)
	ValidateState(ctx context.Context, state, userID string) bool
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
