package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential      = errors.New("no credential set")
	ErrCredentialExpired = errors.New("credential expired")
)

// Claims mirrors the access token payload issued by the auth service.
// The client never verifies the signature; it only inspects claims to
// avoid sending a token the server is guaranteed to reject.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Store holds the current bearer credential, or none. It is the only
// auth state the engine needs: REST calls and the transport dial read
// the token through it.
type Store struct {
	mu      sync.RWMutex
	token   string
	subject string
	expires time.Time
}

func NewStore() *Store {
	return &Store{}
}

// Set installs a bearer token after a client-side sanity check of its
// claims. An expired or unparseable token is rejected and the previous
// credential, if any, is kept.
func (s *Store) Set(token string) error {
	claims, err := inspect(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.subject = claims.UserID
	if s.subject == "" {
		s.subject = claims.Subject
	}
	if claims.ExpiresAt != nil {
		s.expires = claims.ExpiresAt.Time
	} else {
		s.expires = time.Time{}
	}
	return nil
}

// Token returns the current credential. The second return is false when
// no credential is set or the held credential has since expired.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.expires.IsZero() && time.Now().After(s.expires) {
		return "", false
	}
	return s.token, true
}

// Subject returns the user id carried by the current credential.
func (s *Store) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.subject = ""
	s.expires = time.Time{}
}

func inspect(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, ErrCredentialExpired
	}
	return claims, nil
}
