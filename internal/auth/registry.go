// ABOUTME: Session token registry with explicit create/lookup/invalidate/sweep lifecycle
// ABOUTME: An injected store passed by handle, never ambient module state

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a token has no live session.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one live authenticated session.
type SessionRecord struct {
	Token       string
	Handle      string
	DisplayName string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Registry maps opaque tokens to authenticated identities. It is created by
// the server wiring and passed by handle into request-scoped code; nothing
// here is package-level state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates a registry whose sessions expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*SessionRecord),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Create registers a new session for the handle and returns its record.
// Tokens are 32 bytes of crypto/rand, hex encoded.
func (r *Registry) Create(handle, displayName string) (*SessionRecord, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	now := r.now()
	rec := &SessionRecord{
		Token:       hex.EncodeToString(buf),
		Handle:      handle,
		DisplayName: displayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[rec.Token] = rec
	r.mu.Unlock()

	r.logger.Debug("created session", "handle", handle, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// Lookup resolves a token to its session. Expired sessions are treated as
// absent and removed.
func (r *Registry) Lookup(token string) (*SessionRecord, error) {
	r.mu.RLock()
	rec, ok := r.sessions[token]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if r.now().After(rec.ExpiresAt) {
		r.Invalidate(token)
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

// Invalidate removes a session. Unknown tokens are a no-op.
func (r *Registry) Invalidate(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

// SweepExpired removes every expired session and returns how many were dropped.
func (r *Registry) SweepExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, rec := range r.sessions {
		if now.After(rec.ExpiresAt) {
			delete(r.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("swept expired sessions", "count", removed)
	}
	return removed
}
