// ABOUTME: Messaging operations of the session facade
// ABOUTME: Send, reply, thread listing, message listing, and visibility-filtered search

package session

import (
	"context"

	"github.com/2389/postbox/internal/store"
	"github.com/2389/postbox/internal/validate"
)

// Send creates a new thread and its first message. A new thread is always
// created, even when an identical subject and recipient set already exists;
// retrying a send therefore creates a duplicate thread on purpose.
func (s *Session) Send(ctx context.Context, to []string, subject, body string, tags []string) (*store.Message, error) {
	if err := validate.Subject(subject); err != nil {
		return nil, err
	}
	if err := validate.Body(body); err != nil {
		return nil, err
	}
	tags, err := validate.Tags(tags)
	if err != nil {
		return nil, err
	}
	to = dedup(to)
	if len(to) == 0 {
		return nil, &validate.ValidationError{Field: "to", Reason: "at least one recipient required"}
	}
	for _, h := range to {
		if err := validate.Handle(h); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	thread := &store.Thread{
		ID:           s.ids.New(),
		Subject:      subject,
		Participants: sortedUnion([]string{s.identity.Handle}, to),
		CreatedAt:    now,
		LastActivity: now,
	}
	msg := &store.Message{
		ID:        s.ids.New(),
		ThreadID:  thread.ID,
		From:      s.identity.Handle,
		To:        to,
		Subject:   subject,
		Body:      body,
		Tags:      tags,
		CreatedAt: now,
	}

	events := []*store.AuditEvent{
		{
			ID:        s.ids.New(),
			Type:      store.EventThreadCreate,
			Actor:     s.identity.Handle,
			Details:   map[string]any{"thread_id": thread.ID, "subject": subject},
			Timestamp: now,
		},
		{
			ID:        s.ids.New(),
			Type:      store.EventMessageSend,
			Actor:     s.identity.Handle,
			Details:   map[string]any{"message_id": msg.ID, "thread_id": thread.ID, "to": to},
			Timestamp: now,
		},
	}

	if err := s.store.CreateThread(ctx, thread, msg, events); err != nil {
		return nil, s.translate("send", err)
	}
	return msg, nil
}

// Reply creates a new message in the thread of the given parent message.
// Fails with ErrNotFound when the parent does not exist or the caller may
// not see its thread; the two cases are deliberately indistinguishable.
// The reply is addressed to the thread's other participants.
func (s *Session) Reply(ctx context.Context, messageID, body string, tags []string) (*store.Message, error) {
	if err := validate.Body(body); err != nil {
		return nil, err
	}
	tags, err := validate.Tags(tags)
	if err != nil {
		return nil, err
	}

	parent, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, s.translate("reply", err)
	}
	thread, err := s.store.GetThread(ctx, parent.ThreadID)
	if err != nil {
		return nil, s.translate("reply", err)
	}
	if !s.canSee(ctx, thread) {
		return nil, store.ErrNotFound
	}

	to := make([]string, 0, len(thread.Participants))
	for _, p := range thread.Participants {
		if p != s.identity.Handle {
			to = append(to, p)
		}
	}
	if len(to) == 0 {
		// Self-thread: the caller is the only participant.
		to = []string{s.identity.Handle}
	}

	now := s.clock.Now()
	msg := &store.Message{
		ID:        s.ids.New(),
		ThreadID:  thread.ID,
		From:      s.identity.Handle,
		To:        to,
		Subject:   thread.Subject,
		Body:      body,
		InReplyTo: parent.ID,
		Tags:      tags,
		CreatedAt: now,
	}
	participants := sortedUnion(thread.Participants, []string{s.identity.Handle}, to)

	events := []*store.AuditEvent{
		{
			ID:    s.ids.New(),
			Type:  store.EventMessageReply,
			Actor: s.identity.Handle,
			Details: map[string]any{
				"message_id":  msg.ID,
				"thread_id":   thread.ID,
				"in_reply_to": parent.ID,
			},
			Timestamp: now,
		},
	}

	if err := s.store.AppendMessage(ctx, msg, participants, now, events); err != nil {
		return nil, s.translate("reply", err)
	}
	return msg, nil
}

// ReplyThread replies to the most recently created message in the thread.
// Creation-time ties resolve to the last inserted message.
func (s *Session) ReplyThread(ctx context.Context, threadID, body string, tags []string) (*store.Message, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, s.translate("reply_thread", err)
	}
	if !s.canSee(ctx, thread) {
		return nil, store.ErrNotFound
	}

	latest, err := s.store.LatestMessage(ctx, threadID)
	if err != nil {
		return nil, s.translate("reply_thread", err)
	}
	return s.Reply(ctx, latest.ID, body, tags)
}

// ListThreads returns the threads the caller participates in, most recent
// activity first. The participant restriction is part of the store query,
// so the caller's threads never fall out behind newer unrelated traffic.
// Callers whose address book entry carries the admin tag see every thread.
func (s *Session) ListThreads(ctx context.Context) ([]*store.Thread, error) {
	f := store.ThreadFilter{}
	if !s.isAdmin(ctx) {
		f.Participant = s.identity.Handle
	}

	threads, err := s.store.ListThreads(ctx, f)
	if err != nil {
		return nil, s.translate("list_threads", err)
	}
	return threads, nil
}

// GetThread returns the thread, or ErrNotFound when it does not exist or
// the caller lacks visibility. The two cases are indistinguishable so a
// hidden thread's existence never leaks.
func (s *Session) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, s.translate("get_thread", err)
	}
	if !s.canSee(ctx, thread) {
		return nil, store.ErrNotFound
	}
	return thread, nil
}

// ListMessages returns messages ordered by creation time ascending. With a
// thread ID it lists that thread (subject to visibility); without one it
// lists every message visible to the caller.
func (s *Session) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]*store.Message, error) {
	f := store.MessageFilter{Limit: limit, Offset: offset}

	if threadID != "" {
		if _, err := s.GetThread(ctx, threadID); err != nil {
			return nil, err
		}
		f.ThreadID = threadID
	} else if !s.isAdmin(ctx) {
		ids, err := s.visibleThreadIDs(ctx)
		if err != nil {
			return nil, err
		}
		f.ThreadIDs = ids
	}

	messages, err := s.store.ListMessages(ctx, f)
	if err != nil {
		return nil, s.translate("list_messages", err)
	}
	return messages, nil
}

// SearchQuery describes a message search.
type SearchQuery struct {
	Query     string
	InSubject bool
	InBody    bool
	From      string // exact sender handle
	To        string // exact recipient handle
	Limit     int
}

// SearchMessages performs a case-insensitive substring search over subjects
// and/or bodies. Visibility is applied before any other filter so partial
// matches in hidden threads cannot leak their existence. When neither flag
// is set, both subject and body are searched.
func (s *Session) SearchMessages(ctx context.Context, q SearchQuery) ([]*store.Message, error) {
	f := store.MessageFilter{
		Query:     q.Query,
		InSubject: q.InSubject,
		InBody:    q.InBody,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
	}
	if !s.isAdmin(ctx) {
		ids, err := s.visibleThreadIDs(ctx)
		if err != nil {
			return nil, err
		}
		f.ThreadIDs = ids
	}

	messages, err := s.store.ListMessages(ctx, f)
	if err != nil {
		return nil, s.translate("search_messages", err)
	}
	return messages, nil
}

// visibleThreadIDs returns the IDs of every thread the caller participates
// in, with no limit so visibility never silently narrows. Returns a non-nil
// slice so an agent with no threads matches nothing.
func (s *Session) visibleThreadIDs(ctx context.Context) ([]string, error) {
	threads, err := s.store.ListThreads(ctx, store.ThreadFilter{Participant: s.identity.Handle})
	if err != nil {
		return nil, s.translate("visible_threads", err)
	}
	ids := []string{}
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
