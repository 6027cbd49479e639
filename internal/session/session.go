// ABOUTME: Session facade bound to one agent identity and one store handle
// ABOUTME: Owns validation, derived fields, visibility checks, and audit emission

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/2389/postbox/internal/id"
	"github.com/2389/postbox/internal/store"
	"github.com/2389/postbox/internal/validate"
)

// AdminTag is the address book tag that grants visibility into all threads.
const AdminTag = "admin"

// Identity is the authenticated caller a session acts as. It is an
// authorization context, not a persisted entity.
type Identity struct {
	Handle      string
	DisplayName string
}

// Session is the principal API of the messaging store. Every operation runs
// as the bound identity; mutating operations validate inputs, write the
// store, and emit audit events as one atomic unit.
type Session struct {
	identity Identity
	store    store.Store
	clock    id.Clock
	ids      id.Generator
	logger   *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects a clock, letting tests pin timestamps.
func WithClock(c id.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithIDGenerator injects an identifier generator.
func WithIDGenerator(g id.Generator) Option {
	return func(s *Session) { s.ids = g }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session for the given identity. The identity's handle must
// itself be valid; sessions for malformed handles are refused up front.
func New(identity Identity, st store.Store, opts ...Option) (*Session, error) {
	if err := validate.Handle(identity.Handle); err != nil {
		return nil, err
	}

	s := &Session{
		identity: identity,
		store:    st,
		clock:    id.SystemClock{},
		ids:      id.NewULIDGenerator(),
		logger:   slog.Default().With("component", "session", "handle", identity.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Identity returns the identity the session is bound to.
func (s *Session) Identity() Identity {
	return s.identity
}

// isAdmin reports whether the caller's own address book entry carries the
// admin tag. Absent entries never grant admin.
func (s *Session) isAdmin(ctx context.Context) bool {
	entry, err := s.store.GetEntry(ctx, s.identity.Handle)
	if err != nil {
		return false
	}
	for _, tag := range entry.Tags {
		if tag == AdminTag {
			return true
		}
	}
	return false
}

// canSee reports whether the caller may observe the thread.
func (s *Session) canSee(ctx context.Context, thread *store.Thread) bool {
	for _, p := range thread.Participants {
		if p == s.identity.Handle {
			return true
		}
	}
	return s.isAdmin(ctx)
}

// sortedUnion returns the deduplicated, alphabetically sorted union of the
// given handle slices.
func sortedUnion(slices ...[]string) []string {
	seen := make(map[string]bool)
	var union []string
	for _, handles := range slices {
		for _, h := range handles {
			if !seen[h] {
				seen[h] = true
				union = append(union, h)
			}
		}
	}
	sort.Strings(union)
	return union
}

// dedup removes duplicates while preserving first-seen order.
func dedup(handles []string) []string {
	seen := make(map[string]bool, len(handles))
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// translate maps store failures into the public error taxonomy. Known
// sentinels and validation errors pass through; anything else is logged with
// a correlation id and returned opaque.
func (s *Session) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var verr *validate.ValidationError
	if errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrVersionConflict) ||
		errors.Is(err, store.ErrDuplicateHandle) ||
		errors.Is(err, store.ErrBusy) ||
		errors.As(err, &verr) {
		return err
	}

	correlationID := uuid.New().String()
	s.logger.Error("internal error",
		"op", op,
		"correlation_id", correlationID,
		"error", err,
	)
	return fmt.Errorf("internal error (correlation id %s)", correlationID)
}
