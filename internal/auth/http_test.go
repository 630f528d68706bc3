// ABOUTME: Tests for HTTP bearer authentication middleware and claims context
// ABOUTME: Covers missing, malformed, invalid, and expired tokens plus the admin gate

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"), "")
	valid, err := verifier.Generate("u1", "ada@example.com", "member", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Generate("u1", "ada@example.com", "member", -time.Minute)
	require.NoError(t, err)

	var seen *Claims
	handler := HTTPMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "empty token"},
		{"bad signature", "Bearer " + valid + "x", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"valid", "Bearer " + valid, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Contains(t, rec.Body.String(), tt.body)
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "u1", seen.Subject)
		})
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	gate := RequireAdminHTTP()(ok)

	serve := func(c *Claims) int {
		req := httptest.NewRequest(http.MethodPost, "/threads/search", nil)
		if c != nil {
			req = req.WithContext(WithClaims(req.Context(), c))
		}
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&Claims{Role: "member"}))
	assert.Equal(t, http.StatusOK, serve(&Claims{Role: "admin"}))
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(t.Context()))

	var c *Claims
	assert.False(t, c.IsAdmin())
}
