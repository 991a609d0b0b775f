package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssuerGenerateAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewIssuer([]byte("session-secret"), fixedClock(now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, err := iss.GenerateToken("user-42", " agent@example.com ", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := iss.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "agent@example.com" {
		t.Fatalf("unexpected email: %q", claims.Email)
	}
}

func TestIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, _ := NewIssuer([]byte("session-secret"), fixedClock(now))
	token, err := iss.GenerateToken("user-42", "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	later, _ := NewIssuer([]byte("session-secret"), fixedClock(now.Add(2*time.Minute)))
	if _, err := later.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	other, _ := NewIssuer([]byte("another-secret"), fixedClock(now))
	if _, err := other.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	if _, err := iss.ParseAndValidate("   "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestIssuerInputValidation(t *testing.T) {
	if _, err := NewIssuer(nil, nil); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	iss, _ := NewIssuer([]byte("s"), nil)
	if _, err := iss.GenerateToken(" ", "", time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := iss.GenerateToken("u", "", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for ttl, got %v", err)
	}
}

func TestUserContext(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-1 ", "a@b.c")
	u, ok := UserFromContext(ctx)
	if !ok || u.ID != "user-1" || u.Email != "a@b.c" {
		t.Fatalf("unexpected user %+v ok=%v", u, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user in empty context")
	}
}
