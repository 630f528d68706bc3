// ABOUTME: In-memory stand-in for the conversation-state and registry services
// ABOUTME: Serves both REST surfaces with failure injection and request recording

package fakeapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/threadsync/internal/auth"
)

// Message is a persisted message in the conversation-state service's own
// shape.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "human" or "ai"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type thread struct {
	ID         string
	Status     string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Messages   []Message
	Interrupts []json.RawMessage
}

// Server holds the state of both fake services.
type Server struct {
	mu       sync.Mutex
	token    string
	verifier *auth.JWTVerifier
	now      func() time.Time
	logger   *slog.Logger
	seq      int
	msgSeq   int
	threads  map[string]*thread
	order    []string

	regSeq   int
	registry map[string]*RegistryThread
	regOrder []string

	scripts  map[string][]string
	failures map[string]int
	calls    []string
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithVerifier requires a bearer JWT signed for verifier on every request.
// Searches by non-admin callers only see their own threads.
func WithVerifier(v *auth.JWTVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithClock overrides the time source for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		logger:   slog.Default(),
		threads:  make(map[string]*thread),
		registry: make(map[string]*RegistryThread),
		scripts:  make(map[string][]string),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "fakeapi")
	return s
}

// Handler serves the conversation-state surface under /threads and the
// registry surface under /v1/threads.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("POST /threads/search", s.handleSearchThreads)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("POST /threads/{id}/stream", s.handleStream)

	mux.HandleFunc("GET /v1/threads", s.handleListRegistry)
	mux.HandleFunc("POST /v1/threads", s.handleCreateRegistry)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleGetRegistry)
	mux.HandleFunc("DELETE /v1/threads/{id}", s.handleDeleteRegistry)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var h http.Handler = mux
	if s.verifier != nil {
		h = auth.HTTPMiddleware(s.verifier)(mux)
	}
	return s.intercept(h)
}

// intercept records each call, enforces the bearer token, and applies
// injected failures before routing.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.calls = append(s.calls, key)
		status, failing := s.failures[key]
		s.mu.Unlock()

		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if failing {
			s.logger.Debug("injected failure", "route", key, "status", status)
			writeError(w, status, fmt.Sprintf("injected failure for %s", key))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Fail makes every request matching method and path answer with status
// until Recover is called.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// Recover removes an injected failure.
func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// Calls returns the "METHOD /path" of every request received so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
