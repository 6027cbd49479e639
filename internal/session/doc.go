// ABOUTME: Package documentation for the session facade
// ABOUTME: Describes the operation pipeline, visibility rules, and error taxonomy

// Package session implements the business operations of the postbox
// messaging store. A Session is bound to one authenticated agent identity
// and one store handle; it is the only component that reads or writes the
// persistent store.
//
// Every mutating operation follows the same pipeline: validate inputs,
// compute derived fields (identifiers, timestamps, participant sets), write
// the store, and emit audit events. Entity writes and their audit events
// commit atomically; a failed operation leaves no partial state.
//
// # Visibility
//
// Non-admin callers only observe threads whose participant set contains
// their handle. Lookups of hidden threads fail with store.ErrNotFound,
// indistinguishable from a missing thread, and searches apply the
// participant filter before any text matching. A caller whose own address
// book entry carries the "admin" tag bypasses the filter entirely.
//
// # Errors
//
//   - *validate.ValidationError: malformed input, detected before any write
//   - store.ErrNotFound: entity missing or hidden from the caller
//   - store.ErrDuplicateHandle: address book handle already present
//   - store.ErrVersionConflict: optimistic lock lost; re-fetch and retry
//   - store.ErrBusy: writer contention; retry with backoff
//
// Anything else is logged with a correlation id and returned opaque.
package session
