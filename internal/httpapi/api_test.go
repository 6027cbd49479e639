// ABOUTME: HTTP-level tests for the REST facade
// ABOUTME: Covers authentication, the status-code mapping, and end-to-end flows

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/postbox/internal/auth"
	"github.com/2389/postbox/internal/store"
)

type apiFixture struct {
	server   *httptest.Server
	registry *auth.Registry
	tokens   map[string]string
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := auth.NewRegistry(time.Hour)
	srv := httptest.NewServer(NewServer(st, registry, auth.NewCredentialIssuer([]byte("test-secret"))).Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, registry: registry, tokens: map[string]string{}}
}

// tokenFor lazily creates a registry session for the handle.
func (f *apiFixture) tokenFor(t *testing.T, handle string) string {
	t.Helper()
	if tok, ok := f.tokens[handle]; ok {
		return tok
	}
	rec, err := f.registry.Create(handle, handle)
	require.NoError(t, err)
	f.tokens[handle] = rec.Token
	return rec.Token
}

// call issues a request as the given handle and decodes the JSON response
// into out when out is non-nil.
func (f *apiFixture) call(t *testing.T, handle, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reqBody)
	require.NoError(t, err)
	if handle != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokenFor(t, handle))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAPI_Health(t *testing.T) {
	f := setupAPI(t)

	var body map[string]string
	resp := f.call(t, "", "GET", "/v1/healthz", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RequiresAuth(t *testing.T) {
	f := setupAPI(t)

	resp := f.call(t, "", "GET", "/v1/threads", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest("GET", f.server.URL+"/v1/threads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bogus-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SessionExchange(t *testing.T) {
	f := setupAPI(t)

	issuer := auth.NewCredentialIssuer([]byte("test-secret"))
	cred, err := issuer.Issue("alice", "Alice", time.Hour)
	require.NoError(t, err)

	// A raw credential never authenticates a request directly.
	req, err := http.NewRequest("GET", f.server.URL+"/v1/threads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+cred)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Exchange it for a session token.
	var created struct {
		Token     string `json:"token"`
		Handle    string `json:"handle"`
		ExpiresAt string `json:"expires_at"`
	}
	resp = f.call(t, "", "POST", "/v1/sessions", map[string]any{"credential": cred}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", created.Handle)
	require.NotEmpty(t, created.Token)

	req, err = http.NewRequest("GET", f.server.URL+"/v1/threads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Logout invalidates the token.
	req, err = http.NewRequest("DELETE", f.server.URL+"/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err = http.NewRequest("GET", f.server.URL+"/v1/threads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SessionExchange_RejectsBadCredential(t *testing.T) {
	f := setupAPI(t)

	resp := f.call(t, "", "POST", "/v1/sessions", map[string]any{"credential": "garbage"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Foreign secret.
	foreign, err := auth.NewCredentialIssuer([]byte("other-secret")).Issue("alice", "", time.Hour)
	require.NoError(t, err)
	resp = f.call(t, "", "POST", "/v1/sessions", map[string]any{"credential": foreign}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid signature but a handle that could never be an agent.
	bad, err := auth.NewCredentialIssuer([]byte("test-secret")).Issue("Not A Handle", "", time.Hour)
	require.NoError(t, err)
	resp = f.call(t, "", "POST", "/v1/sessions", map[string]any{"credential": bad}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SendAndReadThread(t *testing.T) {
	f := setupAPI(t)

	var msg struct {
		MessageID string `json:"message_id"`
		ThreadID  string `json:"thread_id"`
	}
	resp := f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to":      []string{"bob"},
		"subject": "Hello",
		"body":    "First message",
	}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, msg.ThreadID)

	var thread struct {
		ThreadID     string   `json:"thread_id"`
		Subject      string   `json:"subject"`
		Participants []string `json:"participants"`
	}
	resp = f.call(t, "bob", "GET", "/v1/threads/"+msg.ThreadID, nil, &thread)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello", thread.Subject)
	assert.Equal(t, []string{"alice", "bob"}, thread.Participants)

	// Reply through the message endpoint, then list the thread.
	var reply struct {
		MessageID string `json:"message_id"`
		InReplyTo string `json:"in_reply_to"`
	}
	resp = f.call(t, "bob", "POST", "/v1/messages/"+msg.MessageID+"/replies", map[string]any{
		"body": "Reply body",
	}, &reply)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, msg.MessageID, reply.InReplyTo)

	var msgs []map[string]any
	resp = f.call(t, "alice", "GET", "/v1/threads/"+msg.ThreadID+"/messages", nil, &msgs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, msgs, 2)
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := setupAPI(t)

	// 400: validation failure.
	resp := f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to":      []string{},
		"subject": "S",
		"body":    "b",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 400: malformed JSON.
	req, err := http.NewRequest("POST", f.server.URL+"/v1/threads", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.tokenFor(t, "alice"))
	rawResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	rawResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rawResp.StatusCode)

	// 404: missing thread.
	resp = f.call(t, "alice", "GET", "/v1/threads/no-such-thread", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 404: hidden thread looks identical to a missing one.
	var msg struct {
		ThreadID string `json:"thread_id"`
	}
	resp = f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to": []string{"bob"}, "subject": "Private", "body": "x",
	}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.call(t, "charlie", "GET", "/v1/threads/"+msg.ThreadID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 409: duplicate contact handle.
	resp = f.call(t, "alice", "POST", "/v1/contacts", map[string]any{"handle": "bob"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.call(t, "alice", "POST", "/v1/contacts", map[string]any{"handle": "bob"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// 409: version conflict.
	resp = f.call(t, "alice", "PATCH", "/v1/contacts/bob", map[string]any{
		"display_name":     "Bob",
		"expected_version": 7,
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ContactLifecycle(t *testing.T) {
	f := setupAPI(t)

	var created struct {
		Handle  string `json:"handle"`
		Version int64  `json:"version"`
	}
	resp := f.call(t, "alice", "POST", "/v1/contacts", map[string]any{
		"handle":       "bob",
		"display_name": "Bob",
		"tags":         []string{"ops"},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(1), created.Version)

	var updated struct {
		Version     int64  `json:"version"`
		DisplayName string `json:"display_name"`
		UpdatedBy   string `json:"updated_by"`
	}
	resp = f.call(t, "alice", "PATCH", "/v1/contacts/bob", map[string]any{
		"display_name":     "Bob Prime",
		"expected_version": 1,
	}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "Bob Prime", updated.DisplayName)
	assert.Equal(t, "alice", updated.UpdatedBy)

	var list []map[string]any
	resp = f.call(t, "alice", "GET", "/v1/contacts?tags=ops", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0]["handle"])
}

func TestAPI_MetadataAndArchive(t *testing.T) {
	f := setupAPI(t)

	var msg struct {
		ThreadID string `json:"thread_id"`
	}
	resp := f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to": []string{"bob"}, "subject": "S", "body": "b",
	}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.call(t, "alice", "PUT", fmt.Sprintf("/v1/threads/%s/metadata/priority", msg.ThreadID), map[string]any{"value": "high"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.call(t, "alice", "POST", "/v1/threads/"+msg.ThreadID+"/archive", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var thread struct {
		Metadata map[string]string `json:"metadata"`
	}
	resp = f.call(t, "alice", "GET", "/v1/threads/"+msg.ThreadID, nil, &thread)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", thread.Metadata["priority"])
	assert.Equal(t, "true", thread.Metadata["archived"])

	resp = f.call(t, "alice", "DELETE", fmt.Sprintf("/v1/threads/%s/metadata/priority", msg.ThreadID), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// json.Unmarshal merges into a non-nil map, so reset before re-decoding.
	thread.Metadata = nil
	resp = f.call(t, "alice", "GET", "/v1/threads/"+msg.ThreadID, nil, &thread)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := thread.Metadata["priority"]
	assert.False(t, ok)
}

func TestAPI_SearchScopedToCaller(t *testing.T) {
	f := setupAPI(t)

	resp := f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to": []string{"bob"}, "subject": "Important update", "body": "for bob",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to": []string{"zoe"}, "subject": "Important secret", "body": "for zoe",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msgs []map[string]any
	resp = f.call(t, "bob", "GET", "/v1/messages/search?q=important", nil, &msgs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Important update", msgs[0]["subject"])
}

func TestAPI_AuditTrail(t *testing.T) {
	f := setupAPI(t)

	resp := f.call(t, "alice", "POST", "/v1/contacts", map[string]any{"handle": "bob"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.call(t, "alice", "POST", "/v1/threads", map[string]any{
		"to": []string{"bob"}, "subject": "S", "body": "b",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var events []map[string]any
	resp = f.call(t, "alice", "GET", "/v1/audit", nil, &events)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, events, 3)

	resp = f.call(t, "alice", "GET", "/v1/audit?type=address_book_add", nil, &events)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0]["actor_handle"])
	assert.Equal(t, "bob", events[0]["target_handle"])
}
