package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/framingui/keygate/internal/model"
)

func newSessionFixture(t *testing.T) (*SessionService, *fakeUserStore) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	users := &fakeUserStore{users: map[string]*model.User{
		"u1": {
			ID:           "u1",
			Email:        "dev@example.com",
			PasswordHash: string(hash),
			Plan:         "pro",
			IsActive:     true,
		},
	}}
	return NewSessionService(users, "test-secret", time.Hour), users
}

func TestLoginAndValidate(t *testing.T) {
	svc, _ := newSessionFixture(t)
	ctx := context.Background()

	token, user, err := svc.Login(ctx, "dev@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("user = %+v", user)
	}

	principal, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if principal.UserID != "u1" || principal.Email != "dev@example.com" {
		t.Fatalf("principal = %+v", principal)
	}
}

func TestLoginFailures(t *testing.T) {
	svc, users := newSessionFixture(t)
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, "dev@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: err = %v", err)
	}

	users.users["u1"].IsActive = false
	if _, _, err := svc.Login(ctx, "dev@example.com", "hunter2hunter2"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("disabled account: err = %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newSessionFixture(t)
	ctx := context.Background()

	for _, tok := range []string{"", "not-a-jwt", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := svc.ValidateToken(ctx, tok); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("ValidateToken(%q): err = %v", tok, err)
		}
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc, users := newSessionFixture(t)
	other := NewSessionService(users, "different-secret", time.Hour)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "dev@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("token signed with another secret accepted: err = %v", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	svc, _ := newSessionFixture(t)
	short := NewSessionService(svc.users, "test-secret", time.Nanosecond)
	ctx := context.Background()

	token, err := short.IssueToken(ctx, "u1", "dev@example.com")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := short.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired token accepted: err = %v", err)
	}
}
