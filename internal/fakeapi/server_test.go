// ABOUTME: Tests for the fake services' auth, failure injection, and echo stream
// ABOUTME: Talks raw HTTP so the fixtures are checked independently of the clients

package fakeapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/threadsync/internal/auth"
)

func do(t *testing.T, ts *httptest.Server, method, path, token, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestServer_RequiresToken(t *testing.T) {
	srv := New(WithToken("tok"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := do(t, ts, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodGet, "/health", "tok", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"GET /health", "GET /health"}, srv.Calls())
}

func TestServer_FailAndRecover(t *testing.T) {
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Fail(http.MethodPost, "/threads", http.StatusServiceUnavailable)
	resp, body := do(t, ts, http.MethodPost, "/threads", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "injected failure")
	assert.False(t, srv.HasThread("t1"))

	srv.Recover(http.MethodPost, "/threads")
	resp, body = do(t, ts, http.MethodPost, "/threads", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"thread_id":"t1"`)
}

func TestServer_EchoStreamPersistsBothTurns(t *testing.T) {
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	srv.SeedThread("t1", nil, nil)

	resp, body := do(t, ts, http.MethodPost, "/threads/t1/stream", "",
		`{"messages":[{"role":"user","content":"ping pong"}]}`)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `data: {"data":"Echo: ","type":"delta"}`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	msgs := srv.Messages("t1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "human", msgs[0].Type)
	assert.Equal(t, "Echo: ping pong", msgs[1].Content)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestEchoReply(t *testing.T) {
	assert.Equal(t, "Echo: hi", EchoReply("hi"))
	assert.Contains(t, EchoReply("make a list"), "- First item")
}

func TestServer_VerifierScopesSearch(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("secret"), "")
	member, err := verifier.Generate("u1", "ada@example.com", "member", time.Hour)
	require.NoError(t, err)
	admin, err := verifier.Generate("u9", "root@example.com", "admin", time.Hour)
	require.NoError(t, err)

	srv := New(WithVerifier(verifier))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	srv.SeedThread("t1", map[string]any{"user_id": "u1"}, nil)
	srv.SeedThread("t2", map[string]any{"user_id": "u2"}, nil)

	resp, _ := do(t, ts, http.MethodPost, "/threads/search", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body := do(t, ts, http.MethodPost, "/threads/search", member, `{}`)
	assert.Contains(t, body, `"thread_id":"t1"`)
	assert.NotContains(t, body, `"thread_id":"t2"`)

	_, body = do(t, ts, http.MethodPost, "/threads/search", admin, `{}`)
	assert.Contains(t, body, `"thread_id":"t2"`)
}
