// ABOUTME: Explicit session object with an unauthenticated, loading, authenticated lifecycle
// ABOUTME: Supplies bearer tokens to service clients and expires itself with its token

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnauthenticated is returned when a token is requested outside the
// authenticated state.
var ErrUnauthenticated = errors.New("not authenticated")

// State is a session lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Loading
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session holds the signed-in identity. It is passed explicitly to the
// components that call authenticated services.
type Session struct {
	mu     sync.RWMutex
	state  State
	token  string
	claims *Claims

	verifier *JWTVerifier
	now      func() time.Time
	logger   *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithVerifier verifies token signatures on SignIn. Without one, claims are
// decoded but not verified.
func WithVerifier(v *JWTVerifier) SessionOption {
	return func(s *Session) { s.verifier = v }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession returns an unauthenticated session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Begin marks the session as loading while a token is being obtained.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Loading
}

// SignIn installs token. On failure the session drops back to
// unauthenticated.
func (s *Session) SignIn(token string) error {
	claims, err := s.parse(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && s.expiredLocked(claims) {
		err = ErrExpiredToken
	}
	if err != nil {
		s.state, s.token, s.claims = Unauthenticated, "", nil
		return fmt.Errorf("sign in: %w", err)
	}

	s.state, s.token, s.claims = Authenticated, token, claims
	s.logger.Debug("signed in", "subject", claims.Subject, "role", claims.Role)
	return nil
}

// SignOut clears the session.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.token, s.claims = Unauthenticated, "", nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Claims returns a copy of the signed-in claims, or nil.
func (s *Session) Claims() *Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return nil
	}
	c := *s.claims
	return &c
}

// IsAdmin reports whether the signed-in user has the admin role.
func (s *Session) IsAdmin() bool {
	return s.Claims().IsAdmin()
}

// Token returns the bearer token for an outgoing request. An expired token
// signs the session out.
func (s *Session) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Loading:
		return "", fmt.Errorf("%w: session is still loading", ErrUnauthenticated)
	case Authenticated:
		if s.expiredLocked(s.claims) {
			s.logger.Info("session token expired", "subject", s.claims.Subject)
			s.state, s.token, s.claims = Unauthenticated, "", nil
			return "", ErrExpiredToken
		}
		return s.token, nil
	default:
		return "", ErrUnauthenticated
	}
}

func (s *Session) parse(token string) (*Claims, error) {
	if s.verifier != nil {
		return s.verifier.Verify(token)
	}
	return ParseUnverified(token)
}

func (s *Session) expiredLocked(c *Claims) bool {
	exp := c.Expiry()
	return !exp.IsZero() && !s.now().Before(exp)
}
