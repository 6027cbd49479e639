// ABOUTME: Tests for the append-only audit log
// ABOUTME: Covers ordering, filtering, and detail round-trips

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEvents writes n audit events riding on address book creates, with
// lexically increasing event IDs so ordering assertions are deterministic.
func seedEvents(t *testing.T, s *SQLiteStore, n int) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < n; i++ {
		handle := fmt.Sprintf("agent-%02d", i)
		event := &AuditEvent{
			ID:        fmt.Sprintf("evt-%02d", i),
			Type:      EventAddressBookAdd,
			Actor:     handle,
			Target:    handle,
			Details:   map[string]any{"version": int64(1)},
			Timestamp: now,
		}
		require.NoError(t, s.CreateEntry(context.Background(), mkEntry(handle, now), []*AuditEvent{event}))
	}
}

func TestStore_ListEvents_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	seedEvents(t, store, 5)

	events, err := store.ListEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("evt-%02d", 4-i), e.ID)
	}
}

func TestStore_ListEvents_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.CreateEntry(ctx, mkEntry("alice", now), []*AuditEvent{
		{ID: "evt-1", Type: EventAddressBookAdd, Actor: "alice", Target: "alice", Timestamp: now},
	}))

	thread := &Thread{ID: "thr-1", Subject: "S", Participants: []string{"alice", "bob"}, CreatedAt: now, LastActivity: now}
	msg := &Message{ID: "msg-1", ThreadID: "thr-1", From: "alice", To: []string{"bob"}, Subject: "S", Body: "b", CreatedAt: now}
	require.NoError(t, store.CreateThread(ctx, thread, msg, []*AuditEvent{
		{ID: "evt-2", Type: EventThreadCreate, Actor: "alice", Target: "thr-1", Timestamp: now},
		{ID: "evt-3", Type: EventMessageSend, Actor: "alice", Target: "msg-1", Timestamp: now},
	}))

	byType, err := store.ListEvents(ctx, EventFilter{Type: EventThreadCreate})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "evt-2", byType[0].ID)

	byActor, err := store.ListEvents(ctx, EventFilter{Actor: "alice"})
	require.NoError(t, err)
	assert.Len(t, byActor, 3)

	byTarget, err := store.ListEvents(ctx, EventFilter{Target: "msg-1"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, EventMessageSend, byTarget[0].Type)

	none, err := store.ListEvents(ctx, EventFilter{Actor: "mallory"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ListEvents_Limit(t *testing.T) {
	store := setupTestStore(t)
	seedEvents(t, store, 5)

	events, err := store.ListEvents(context.Background(), EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-04", events[0].ID)
	assert.Equal(t, "evt-03", events[1].ID)
}

func TestStore_ListEvents_DetailsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.CreateEntry(ctx, mkEntry("alice", now), []*AuditEvent{
		{
			ID:        "evt-1",
			Type:      EventAddressBookAdd,
			Actor:     "alice",
			Target:    "alice",
			Details:   map[string]any{"version": float64(1), "fields": []any{"display_name"}},
			Timestamp: now,
		},
	}))

	events, err := store.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, float64(1), events[0].Details["version"])
	assert.Equal(t, []any{"display_name"}, events[0].Details["fields"])
	assert.Equal(t, now, events[0].Timestamp)
}
