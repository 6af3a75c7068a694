package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"userId": userID}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestSetAndToken(t *testing.T) {
	s := NewStore()

	if _, ok := s.Token(); ok {
		t.Fatal("Token() ok = true on empty store")
	}

	raw := signedToken(t, "usr_1", time.Now().Add(time.Hour))
	if err := s.Set(raw); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	token, ok := s.Token()
	if !ok || token != raw {
		t.Fatalf("Token() = (%q, %v), want the installed credential", token, ok)
	}
	if s.Subject() != "usr_1" {
		t.Fatalf("Subject() = %q, want usr_1", s.Subject())
	}
}

func TestSetRejectsExpiredToken(t *testing.T) {
	s := NewStore()

	err := s.Set(signedToken(t, "usr_1", time.Now().Add(-time.Minute)))
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("Set() error = %v, want ErrCredentialExpired", err)
	}
	if _, ok := s.Token(); ok {
		t.Fatal("Token() ok = true after rejected set")
	}
}

func TestSetRejectsGarbageKeepsPrevious(t *testing.T) {
	s := NewStore()
	good := signedToken(t, "usr_1", time.Now().Add(time.Hour))
	if err := s.Set(good); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := s.Set("not-a-jwt"); err == nil {
		t.Fatal("Set() error = nil for malformed token")
	}

	token, ok := s.Token()
	if !ok || token != good {
		t.Fatalf("Token() = (%q, %v), want previous credential kept", token, ok)
	}
}

func TestHeldTokenExpires(t *testing.T) {
	s := NewStore()
	if err := s.Set(signedToken(t, "usr_1", time.Now().Add(30*time.Millisecond))); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := s.Token(); ok {
		t.Fatal("Token() ok = true after the held credential expired")
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	if err := s.Set(signedToken(t, "usr_1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	s.Clear()
	if _, ok := s.Token(); ok {
		t.Fatal("Token() ok = true after Clear")
	}
	if s.Subject() != "" {
		t.Fatalf("Subject() = %q after Clear, want empty", s.Subject())
	}
}
