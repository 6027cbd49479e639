// ABOUTME: Address book operations of the session facade
// ABOUTME: Contact CRUD under optimistic locking, deactivation instead of deletion

package session

import (
	"context"

	"github.com/2389/postbox/internal/store"
	"github.com/2389/postbox/internal/validate"
)

// AddressBookAdd creates a new contact entry at version 1. Fails with
// store.ErrDuplicateHandle when the handle is already present, active or not.
func (s *Session) AddressBookAdd(ctx context.Context, handle, displayName, description string, tags []string) (*store.AddressBookEntry, error) {
	if err := validate.Handle(handle); err != nil {
		return nil, err
	}
	if displayName != "" {
		if err := validate.DisplayName(displayName); err != nil {
			return nil, err
		}
	}
	if description != "" {
		if err := validate.Description(description); err != nil {
			return nil, err
		}
	}
	tags, err := validate.Tags(tags)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry := &store.AddressBookEntry{
		Handle:      handle,
		DisplayName: displayName,
		Description: description,
		Tags:        tags,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   s.identity.Handle,
	}

	events := []*store.AuditEvent{
		{
			ID:        s.ids.New(),
			Type:      store.EventAddressBookAdd,
			Actor:     s.identity.Handle,
			Target:    handle,
			Details:   map[string]any{"version": int64(1)},
			Timestamp: now,
		},
	}

	if err := s.store.CreateEntry(ctx, entry, events); err != nil {
		return nil, s.translate("address_book_add", err)
	}
	return entry, nil
}

// AddressBookGet returns the entry for a handle, or store.ErrNotFound.
func (s *Session) AddressBookGet(ctx context.Context, handle string) (*store.AddressBookEntry, error) {
	entry, err := s.store.GetEntry(ctx, handle)
	if err != nil {
		return nil, s.translate("address_book_get", err)
	}
	return entry, nil
}

// EntryUpdate holds the field changes of an address book update. Nil fields
// are left unchanged; deactivation (Active=false) models deletion, entries
// are never physically removed.
type EntryUpdate struct {
	DisplayName *string
	Description *string
	Tags        *[]string
	Active      *bool
}

// AddressBookUpdate applies the given changes iff the stored version still
// equals expectedVersion, then increments the version by exactly 1. Fails
// with store.ErrNotFound when the handle is absent and
// store.ErrVersionConflict when another writer got there first; the caller
// must re-fetch and retry.
func (s *Session) AddressBookUpdate(ctx context.Context, handle string, upd EntryUpdate, expectedVersion int64) (*store.AddressBookEntry, error) {
	current, err := s.store.GetEntry(ctx, handle)
	if err != nil {
		return nil, s.translate("address_book_update", err)
	}

	entry := *current
	changed := []string{}
	if upd.DisplayName != nil {
		if *upd.DisplayName != "" {
			if err := validate.DisplayName(*upd.DisplayName); err != nil {
				return nil, err
			}
		}
		entry.DisplayName = *upd.DisplayName
		changed = append(changed, "display_name")
	}
	if upd.Description != nil {
		if *upd.Description != "" {
			if err := validate.Description(*upd.Description); err != nil {
				return nil, err
			}
		}
		entry.Description = *upd.Description
		changed = append(changed, "description")
	}
	if upd.Tags != nil {
		tags, err := validate.Tags(*upd.Tags)
		if err != nil {
			return nil, err
		}
		entry.Tags = tags
		changed = append(changed, "tags")
	}
	if upd.Active != nil {
		entry.Active = *upd.Active
		changed = append(changed, "is_active")
	}

	now := s.clock.Now()
	entry.Version = expectedVersion + 1
	entry.UpdatedAt = now
	entry.UpdatedBy = s.identity.Handle

	events := []*store.AuditEvent{
		{
			ID:     s.ids.New(),
			Type:   store.EventAddressBookUpdate,
			Actor:  s.identity.Handle,
			Target: handle,
			Details: map[string]any{
				"version": entry.Version,
				"fields":  changed,
			},
			Timestamp: now,
		},
	}

	if err := s.store.UpdateEntry(ctx, &entry, expectedVersion, events); err != nil {
		return nil, s.translate("address_book_update", err)
	}
	return &entry, nil
}

// AddressBookList returns all entries ordered by handle.
func (s *Session) AddressBookList(ctx context.Context, activeOnly bool) ([]*store.AddressBookEntry, error) {
	entries, err := s.store.ListEntries(ctx, store.EntryFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, s.translate("address_book_list", err)
	}
	return entries, nil
}

// AddressBookSearch matches entries by substring across handle, display
// name, and description. When tags are given, an entry must carry at least
// one of them.
func (s *Session) AddressBookSearch(ctx context.Context, query string, tags []string, activeOnly bool) ([]*store.AddressBookEntry, error) {
	entries, err := s.store.ListEntries(ctx, store.EntryFilter{
		Query:      query,
		Tags:       tags,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return nil, s.translate("address_book_search", err)
	}
	return entries, nil
}
