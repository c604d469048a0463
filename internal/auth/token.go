// Package auth supplies session tokens for channel dials. Token issuance
// lives on the server side; the client only caches a signed token and
// asks for a fresh one when the cached one is about to expire.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no token is available and no refresh
// function was configured.
var ErrNoToken = errors.New("no session token available")

// TokenSource yields a session token valid for at least the next dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static wraps a fixed token. Suitable for short-lived tools and tests.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// RefreshFunc fetches a fresh token from the auth boundary.
type RefreshFunc func(ctx context.Context) (string, error)

// Refreshing caches a JWT and refreshes it through a callback once the
// expiry claim comes within the leeway window. The client does not hold
// the signing secret, so the token is inspected without verification;
// the server remains the authority on validity.
type Refreshing struct {
	refresh RefreshFunc
	leeway  time.Duration
	clock   clock.Clock

	mu      sync.Mutex
	current string
	expires time.Time
}

// NewRefreshing builds a refreshing token source. leeway is how long
// before expiry a token is considered stale (default 30s).
func NewRefreshing(refresh RefreshFunc, leeway time.Duration, clk clock.Clock) *Refreshing {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Refreshing{refresh: refresh, leeway: leeway, clock: clk}
}

func (r *Refreshing) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != "" && (r.expires.IsZero() || r.clock.Now().Add(r.leeway).Before(r.expires)) {
		return r.current, nil
	}
	if r.refresh == nil {
		return "", ErrNoToken
	}

	token, err := r.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	r.current = token
	r.expires = expiryOf(token)
	return token, nil
}

// expiryOf extracts the exp claim without verifying the signature.
// Tokens without a parseable expiry are treated as non-expiring and
// replaced only on explicit refresh failure upstream.
func expiryOf(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
