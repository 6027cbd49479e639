// ABOUTME: Package documentation for the store package
// ABOUTME: Describes tables, single-writer discipline, and error conventions

// Package store provides persistent storage for postbox using SQLite.
//
// # Tables
//
// Five tables back the four entity collections plus a schema marker:
//
//   - messages: immutable messages, one thread each
//   - threads: conversation groupings with participant sets and metadata
//   - address_book: mutable contact entries under optimistic locking
//   - audit_log: append-only record of every mutating operation
//   - schema_metadata: schema version marker; its existence alongside the
//     data tables is what external health checks look for
//
// List and map fields (to_handles, tags, participants, metadata) are stored
// as JSON text inside otherwise flat rows. Encoding and decoding happen only
// at this package's boundary; callers see native slices and maps.
//
// # Single-writer discipline
//
// SQLiteStore serializes all mutating operations behind a one-slot writer
// gate. A mutation that cannot acquire the gate within the bounded wait
// fails with ErrBusy rather than blocking indefinitely; callers should retry
// with backoff. Reads run concurrently with each other (WAL mode) and never
// observe a partially applied mutation: each logical operation, including
// its audit events, commits in a single transaction.
//
// # Optimistic locking
//
// address_book rows carry a version counter. UpdateEntry performs the
// compare-and-set in one UPDATE statement (WHERE handle = ? AND version = ?)
// so the check and the write cannot be split across round trips.
//
// # Errors
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateHandle: address book handle already present
//   - ErrVersionConflict: optimistic lock mismatch
//   - ErrBusy: writer gate contention; transient, retry with backoff
package store
