package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession indicates that no user is signed in.
var ErrNoSession = errors.New("auth: no active session")

// Session holds the client's current session token. The signature is checked
// by the backend; the client only reads the user id and expiry.
type Session struct {
	mu     sync.RWMutex
	token  string
	claims SessionClaims
	clock  func() time.Time
}

// NewSession creates a signed-out session.
func NewSession(clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{clock: clock}
}

// SignIn replaces the current token after reading its claims.
func (s *Session) SignIn(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingSessionToken
	}
	claims := SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return errors.Join(ErrInvalidSessionToken, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return ErrMissingSessionSubject
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.claims = claims
	return nil
}

// SignOut forgets the current token.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = SessionClaims{}
}

// IsAuthenticated reports whether a non-expired token is held.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	if s.claims.ExpiresAt != nil && !s.clock().Before(s.claims.ExpiresAt.Time) {
		return false
	}
	return true
}

// Token returns the bearer token for outgoing requests.
func (s *Session) Token() (string, error) {
	if !s.IsAuthenticated() {
		return "", ErrNoSession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// UserID returns the signed-in user's id, or an empty string.
func (s *Session) UserID() string {
	if !s.IsAuthenticated() {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims.UserID
}
