package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrNoSession = errors.New("no active session")

// Tokens is the opaque access/refresh credential pair handed out by the
// backend. Presence of the access token is the sole authentication predicate.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (t Tokens) IsZero() bool { return t.Access == "" }

// Store persists the credential pair across invocations, the way a browser
// keeps it in local storage under fixed keys.
type Store interface {
	Load() (Tokens, error)
	Save(Tokens) error
	Clear() error
}

// LoginFunc exchanges credentials for tokens with the backend.
type LoginFunc func(ctx context.Context, email, password string) (Tokens, error)

// Gate is the process-wide auth context. Every gated action asks it whether a
// session exists; only the login/logout flow writes to it.
type Gate struct {
	mu    sync.RWMutex
	store Store
	login LoginFunc
}

func NewGate(store Store, login LoginFunc) *Gate {
	return &Gate{store: store, login: login}
}

// IsAuthenticated reports whether an access token is present. The token is not
// verified locally; the backend remains the authority and gated calls may
// still come back 401.
func (g *Gate) IsAuthenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tokens, err := g.store.Load()
	return err == nil && !tokens.IsZero()
}

func (g *Gate) Tokens() Tokens {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tokens, err := g.store.Load()
	if err != nil {
		return Tokens{}
	}
	return tokens
}

// Login exchanges credentials with the backend and persists the returned pair.
func (g *Gate) Login(ctx context.Context, email, password string) error {
	tokens, err := g.login(ctx, email, password)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	return g.Persist(tokens)
}

// Persist saves tokens obtained out of band (e.g. returned by OTP verification).
func (g *Gate) Persist(tokens Tokens) error {
	if tokens.IsZero() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Wrap(g.store.Save(tokens), "saving session")
}

func (g *Gate) Logout() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Wrap(g.store.Clear(), "clearing session")
}

// AccessExpiry peeks at the access token's exp claim without verifying the
// signature. Display-only; an expired-looking token still counts as present.
func (g *Gate) AccessExpiry() (time.Time, error) {
	tokens := g.Tokens()
	if tokens.IsZero() {
		return time.Time{}, ErrNoSession
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.Access, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "parsing access token")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("access token has no expiry")
	}
	return exp.Time, nil
}
