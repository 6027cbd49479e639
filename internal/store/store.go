// ABOUTME: Store interface and data types for postbox persistence
// ABOUTME: Defines Message, Thread, AddressBookEntry, AuditEvent and the Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateHandle is returned when creating an address book entry
// whose handle is already present, active or not.
var ErrDuplicateHandle = errors.New("handle already exists")

// ErrVersionConflict is returned when an address book update supplies an
// expected version that no longer matches the stored row.
var ErrVersionConflict = errors.New("version conflict")

// ErrBusy is returned when the single-writer gate could not be acquired
// within the bounded wait. The operation was not applied; retry with backoff.
var ErrBusy = errors.New("store busy")

// Message is a single message within a thread. Immutable once created.
type Message struct {
	ID        string
	ThreadID  string
	From      string
	To        []string // ordered, deduplicated, size >= 1
	Subject   string
	Body      string
	InReplyTo string // message ID of the parent, empty for thread openers
	Tags      []string
	CreatedAt time.Time
}

// Thread groups messages sharing a subject and a growing participant set.
type Thread struct {
	ID           string
	Subject      string            // inherited from the first message, never changed
	Participants []string          // sorted, deduplicated handles
	Metadata     map[string]string // absent key means unset
	CreatedAt    time.Time
	LastActivity time.Time
}

// MetadataKeyArchived is the reserved metadata key used by archive/unarchive.
const MetadataKeyArchived = "archived"

// AddressBookEntry is a mutable contact record under optimistic locking.
// Version starts at 1 and increments by exactly 1 on every successful update.
type AddressBookEntry struct {
	Handle      string
	DisplayName string
	Description string
	Tags        []string
	Active      bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdatedBy   string
}

// EventType identifies an auditable action.
type EventType string

const (
	EventThreadCreate      EventType = "thread_create"
	EventMessageSend       EventType = "message_send"
	EventMessageReply      EventType = "message_reply"
	EventAddressBookAdd    EventType = "address_book_add"
	EventAddressBookUpdate EventType = "address_book_update"
	EventThreadMetadata    EventType = "thread_metadata_update"
)

// ValidEventTypes lists every event type the audit log accepts.
var ValidEventTypes = []EventType{
	EventThreadCreate,
	EventMessageSend,
	EventMessageReply,
	EventAddressBookAdd,
	EventAddressBookUpdate,
	EventThreadMetadata,
}

// AuditEvent is an append-only record of a mutating operation.
// Never updated or deleted.
type AuditEvent struct {
	ID        string
	Type      EventType
	Actor     string
	Target    string // optional target handle
	Details   map[string]any
	Timestamp time.Time
}

// ThreadFilter selects threads for listing. Participant, when set, restricts
// results to threads that handle participates in; the restriction is applied
// in SQL before any limit so a participant's threads are never crowded out
// by newer unrelated traffic. A zero Limit means no limit.
type ThreadFilter struct {
	Participant string
	Limit       int
}

// MessageFilter selects messages for listing and search.
// ThreadIDs, when non-nil, restricts results to those threads; this is how
// callers apply visibility before any other filter. An empty non-nil slice
// matches nothing.
type MessageFilter struct {
	ThreadID  string
	ThreadIDs []string
	Query     string // case-insensitive substring
	InSubject bool
	InBody    bool
	From      string // exact sender handle
	To        string // exact recipient handle
	Limit     int
	Offset    int
}

// EntryFilter selects address book entries for search.
type EntryFilter struct {
	Query      string   // substring across handle, display name, description
	Tags       []string // entry must carry at least one of these
	ActiveOnly bool
}

// EventFilter selects audit events.
type EventFilter struct {
	Actor  string
	Target string
	Type   EventType
	Limit  int
}

// Store is the persistence contract for the session facade. Every mutating
// method that accepts audit events applies the entity write and the audit
// append in one transaction: either all of it lands or none of it does.
type Store interface {
	// Threads and messages
	CreateThread(ctx context.Context, thread *Thread, first *Message, events []*AuditEvent) error
	AppendMessage(ctx context.Context, msg *Message, participants []string, lastActivity time.Time, events []*AuditEvent) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, f ThreadFilter) ([]*Thread, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	LatestMessage(ctx context.Context, threadID string) (*Message, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]*Message, error)
	SetThreadMetadata(ctx context.Context, threadID, key string, value *string, events []*AuditEvent) error

	// Address book
	CreateEntry(ctx context.Context, entry *AddressBookEntry, events []*AuditEvent) error
	GetEntry(ctx context.Context, handle string) (*AddressBookEntry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]*AddressBookEntry, error)
	UpdateEntry(ctx context.Context, entry *AddressBookEntry, expectedVersion int64, events []*AuditEvent) error

	// Audit log
	ListEvents(ctx context.Context, f EventFilter) ([]*AuditEvent, error)

	// Health reports whether the schema is fully initialized.
	Health(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
