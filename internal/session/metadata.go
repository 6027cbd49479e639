// ABOUTME: Thread metadata operations and audit log queries
// ABOUTME: Key-value metadata with archive/unarchive sugar over the reserved key

package session

import (
	"context"
	"strings"

	"github.com/2389/postbox/internal/store"
	"github.com/2389/postbox/internal/validate"
)

// UpdateThreadMetadata sets or removes one metadata key on a thread the
// caller can see. A nil value removes the key; a non-nil value sets or
// overwrites it. The operation is idempotent.
func (s *Session) UpdateThreadMetadata(ctx context.Context, threadID, key string, value *string) error {
	if strings.TrimSpace(key) == "" {
		return &validate.ValidationError{Field: "metadata key", Reason: "must not be empty"}
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return err
	}

	now := s.clock.Now()
	details := map[string]any{"thread_id": threadID, "key": key}
	if value == nil {
		details["removed"] = true
	} else {
		details["value"] = *value
	}
	events := []*store.AuditEvent{
		{
			ID:        s.ids.New(),
			Type:      store.EventThreadMetadata,
			Actor:     s.identity.Handle,
			Details:   details,
			Timestamp: now,
		},
	}

	if err := s.store.SetThreadMetadata(ctx, threadID, key, value, events); err != nil {
		return s.translate("update_thread_metadata", err)
	}
	return nil
}

// GetThreadMetadata returns the value stored under key, or nil when the key
// is unset. Visibility follows GetThread.
func (s *Session) GetThreadMetadata(ctx context.Context, threadID, key string) (*string, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	value, ok := thread.Metadata[key]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

// ArchiveThread marks a thread archived by setting the reserved
// "archived" metadata key to "true".
func (s *Session) ArchiveThread(ctx context.Context, threadID string) error {
	v := "true"
	return s.UpdateThreadMetadata(ctx, threadID, store.MetadataKeyArchived, &v)
}

// UnarchiveThread sets the reserved "archived" metadata key to "false".
func (s *Session) UnarchiveThread(ctx context.Context, threadID string) error {
	v := "false"
	return s.UpdateThreadMetadata(ctx, threadID, store.MetadataKeyArchived, &v)
}

// AuditList returns audit events, newest first (exact reverse insertion
// order; event IDs are monotonic ULIDs). Optional filters narrow by target
// handle and event type.
func (s *Session) AuditList(ctx context.Context, targetHandle string, eventType store.EventType, limit int) ([]*store.AuditEvent, error) {
	events, err := s.store.ListEvents(ctx, store.EventFilter{
		Target: targetHandle,
		Type:   eventType,
		Limit:  limit,
	})
	if err != nil {
		return nil, s.translate("audit_list", err)
	}
	return events, nil
}
