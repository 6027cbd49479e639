// ABOUTME: HTTP facade mapping session operations to REST endpoints
// ABOUTME: Translates the error taxonomy to 400/404/409/503 and authenticates bearer tokens

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/postbox/internal/auth"
	"github.com/2389/postbox/internal/session"
	"github.com/2389/postbox/internal/store"
	"github.com/2389/postbox/internal/validate"
)

// Server exposes the session facade over HTTP. Agents exchange a long-lived
// credential for a short-lived session token at /v1/sessions; every other
// endpoint is bound to the identity behind that token, with a fresh session
// facade built per request.
type Server struct {
	store    store.Store
	registry *auth.Registry
	verifier auth.CredentialVerifier
	logger   *slog.Logger
}

// NewServer creates an HTTP API server. verifier may be nil when credential
// auth is not configured; sessions can then only be created by embedding
// callers driving the registry directly.
func NewServer(st store.Store, registry *auth.Registry, verifier auth.CredentialVerifier) *Server {
	return &Server{
		store:    st,
		registry: registry,
		verifier: verifier,
		logger:   slog.Default().With("component", "httpapi"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/sessions", s.handleSessionCreate)
	mux.HandleFunc("DELETE /v1/sessions", s.handleSessionDelete)

	mux.HandleFunc("POST /v1/threads", s.authed(s.handleSend))
	mux.HandleFunc("GET /v1/threads", s.authed(s.handleListThreads))
	mux.HandleFunc("GET /v1/threads/{id}", s.authed(s.handleGetThread))
	mux.HandleFunc("GET /v1/threads/{id}/messages", s.authed(s.handleThreadMessages))
	mux.HandleFunc("POST /v1/threads/{id}/replies", s.authed(s.handleReplyThread))
	mux.HandleFunc("PUT /v1/threads/{id}/metadata/{key}", s.authed(s.handleSetMetadata))
	mux.HandleFunc("DELETE /v1/threads/{id}/metadata/{key}", s.authed(s.handleDeleteMetadata))
	mux.HandleFunc("POST /v1/threads/{id}/archive", s.authed(s.handleArchive))
	mux.HandleFunc("POST /v1/threads/{id}/unarchive", s.authed(s.handleUnarchive))

	mux.HandleFunc("GET /v1/messages", s.authed(s.handleListMessages))
	mux.HandleFunc("GET /v1/messages/search", s.authed(s.handleSearchMessages))
	mux.HandleFunc("POST /v1/messages/{id}/replies", s.authed(s.handleReply))

	mux.HandleFunc("POST /v1/contacts", s.authed(s.handleContactAdd))
	mux.HandleFunc("GET /v1/contacts", s.authed(s.handleContactList))
	mux.HandleFunc("GET /v1/contacts/{handle}", s.authed(s.handleContactGet))
	mux.HandleFunc("PATCH /v1/contacts/{handle}", s.authed(s.handleContactUpdate))

	mux.HandleFunc("GET /v1/audit", s.authed(s.handleAuditList))

	return mux
}

// authed wraps a handler with bearer-token authentication and builds the
// per-request session facade.
func (s *Server) authed(fn func(w http.ResponseWriter, r *http.Request, sess *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authenticate(r)
		if !ok {
			s.logger.Debug("unauthenticated request", "method", r.Method, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing bearer token"})
			return
		}

		sess, err := session.New(identity, s.store)
		if err != nil {
			s.writeError(w, err)
			return
		}
		fn(w, r, sess)
	}
}

// authenticate resolves the bearer session token to an identity. Long-lived
// credentials never authenticate requests directly; they are exchanged for a
// session token first, so revocation is a registry invalidation away.
func (s *Server) authenticate(r *http.Request) (session.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return session.Identity{}, false
	}
	rec, err := s.registry.Lookup(token)
	if err != nil {
		return session.Identity{}, false
	}
	return session.Identity{Handle: rec.Handle, DisplayName: rec.DisplayName}, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	return token, found && token != ""
}

type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, store.ErrDuplicateHandle), errors.Is(err, store.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store busy, retry with backoff"})
	default:
		// Session layer already attached a correlation id and logged detail.
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &validate.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// handleSessionCreate exchanges a long-lived credential for a registry
// session token. The credential travels in the request body, not the
// Authorization header, so proxies logging auth headers never see it.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "credential auth not configured"})
		return
	}

	var req struct {
		Credential string `json:"credential"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	claims, err := s.verifier.Verify(req.Credential)
	if err != nil {
		s.logger.Debug("credential rejected", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credential"})
		return
	}
	if err := validate.Handle(claims.Handle); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "credential carries a malformed handle"})
		return
	}

	rec, err := s.registry.Create(claims.Handle, claims.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"token":      rec.Token,
		"handle":     rec.Handle,
		"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleSessionDelete invalidates the presented session token.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing bearer token"})
		return
	}
	if _, err := s.registry.Lookup(token); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing bearer token"})
		return
	}
	s.registry.Invalidate(token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "uninitialized",
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
