// ABOUTME: Request handlers and JSON representations for the HTTP facade
// ABOUTME: Thin adapters only; all business logic lives in the session package

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/2389/postbox/internal/session"
	"github.com/2389/postbox/internal/store"
)

type messageJSON struct {
	MessageID string   `json:"message_id"`
	ThreadID  string   `json:"thread_id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	InReplyTo string   `json:"in_reply_to,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func toMessageJSON(m *store.Message) messageJSON {
	return messageJSON{
		MessageID: m.ID,
		ThreadID:  m.ThreadID,
		From:      m.From,
		To:        m.To,
		Subject:   m.Subject,
		Body:      m.Body,
		InReplyTo: m.InReplyTo,
		Tags:      m.Tags,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toMessagesJSON(msgs []*store.Message) []messageJSON {
	out := make([]messageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageJSON(m)
	}
	return out
}

type threadJSON struct {
	ThreadID     string            `json:"thread_id"`
	Subject      string            `json:"subject"`
	Participants []string          `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
	LastActivity string            `json:"last_activity_at"`
}

func toThreadJSON(t *store.Thread) threadJSON {
	return threadJSON{
		ThreadID:     t.ID,
		Subject:      t.Subject,
		Participants: t.Participants,
		Metadata:     t.Metadata,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity: t.LastActivity.UTC().Format(time.RFC3339),
	}
}

type entryJSON struct {
	Handle      string   `json:"handle"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsActive    bool     `json:"is_active"`
	Version     int64    `json:"version"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	UpdatedBy   string   `json:"updated_by"`
}

func toEntryJSON(e *store.AddressBookEntry) entryJSON {
	return entryJSON{
		Handle:      e.Handle,
		DisplayName: e.DisplayName,
		Description: e.Description,
		Tags:        e.Tags,
		IsActive:    e.Active,
		Version:     e.Version,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		UpdatedBy:   e.UpdatedBy,
	}
}

type eventJSON struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor_handle"`
	Target    string         `json:"target_handle,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		Body    string   `json:"body"`
		Tags    []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := sess.Send(r.Context(), req.To, req.Subject, req.Body, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageJSON(msg))
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	threads, err := sess.ListThreads(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]threadJSON, len(threads))
	for i, t := range threads {
		out[i] = toThreadJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	thread, err := sess.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadJSON(thread))
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	msgs, err := sess.ListMessages(r.Context(), r.PathValue("id"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagesJSON(msgs))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	msgs, err := sess.ListMessages(r.Context(), "", queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagesJSON(msgs))
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	msgs, err := sess.SearchMessages(r.Context(), session.SearchQuery{
		Query:     q.Get("q"),
		InSubject: queryBool(r, "in_subject"),
		InBody:    queryBool(r, "in_body"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Limit:     queryInt(r, "limit"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagesJSON(msgs))
}

type replyRequest struct {
	Body string   `json:"body"`
	Tags []string `json:"tags"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	msg, err := sess.Reply(r.Context(), r.PathValue("id"), req.Body, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageJSON(msg))
}

func (s *Server) handleReplyThread(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	msg, err := sess.ReplyThread(r.Context(), r.PathValue("id"), req.Body, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageJSON(msg))
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := sess.UpdateThreadMetadata(r.Context(), r.PathValue("id"), r.PathValue("key"), &req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteMetadata(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.UpdateThreadMetadata(r.Context(), r.PathValue("id"), r.PathValue("key"), nil); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.ArchiveThread(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnarchive(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.UnarchiveThread(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleContactAdd(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Handle      string   `json:"handle"`
		DisplayName string   `json:"display_name"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	entry, err := sess.AddressBookAdd(r.Context(), req.Handle, req.DisplayName, req.Description, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(entry))
}

func (s *Server) handleContactGet(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	entry, err := sess.AddressBookGet(r.Context(), r.PathValue("handle"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(entry))
}

func (s *Server) handleContactList(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	var entries []*store.AddressBookEntry
	var err error
	if q.Get("q") != "" || q.Get("tags") != "" {
		var tags []string
		if raw := q.Get("tags"); raw != "" {
			tags = splitCSV(raw)
		}
		entries, err = sess.AddressBookSearch(r.Context(), q.Get("q"), tags, queryBool(r, "active_only"))
	} else {
		entries, err = sess.AddressBookList(r.Context(), queryBool(r, "active_only"))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = toEntryJSON(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContactUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		DisplayName     *string   `json:"display_name"`
		Description     *string   `json:"description"`
		Tags            *[]string `json:"tags"`
		IsActive        *bool     `json:"is_active"`
		ExpectedVersion int64     `json:"expected_version"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	entry, err := sess.AddressBookUpdate(r.Context(), r.PathValue("handle"), session.EntryUpdate{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Tags:        req.Tags,
		Active:      req.IsActive,
	}, req.ExpectedVersion)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(entry))
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	events, err := sess.AuditList(r.Context(), q.Get("target"), store.EventType(q.Get("type")), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]eventJSON, len(events))
	for i, e := range events {
		out[i] = eventJSON{
			EventID:   e.ID,
			EventType: string(e.Type),
			Actor:     e.Actor,
			Target:    e.Target,
			Details:   e.Details,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
