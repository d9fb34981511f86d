package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/framingui/keygate/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *SQLStore, email string) *model.User {
	t.Helper()
	user := &model.User{
		Email:        email,
		PasswordHash: "$2a$10$somebcrypthash",
		Plan:         "pro",
		IsActive:     true,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := newTestUser(t, s, "owner@example.com")
	if user.ID == "" {
		t.Fatal("expected generated user ID")
	}

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != "owner@example.com" || got.Plan != "pro" {
		t.Errorf("unexpected user: %+v", got)
	}

	byEmail, err := s.GetUserByEmail(ctx, "owner@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("ID mismatch: got %q, want %q", byEmail.ID, user.ID)
	}

	if err := s.UpdateUserLastLogin(ctx, user.ID); err != nil {
		t.Fatalf("UpdateUserLastLogin: %v", err)
	}
	got, _ = s.GetUser(ctx, user.ID)
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at to be set")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	newTestUser(t, s, "dup@example.com")

	err := s.CreateUser(context.Background(), &model.User{
		Email:        "dup@example.com",
		PasswordHash: "x",
		IsActive:     true,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKeyInsertAndFindByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "keys@example.com")

	key := &model.APIKey{
		UserID:    user.ID,
		KeyHash:   "$2a$12$hash-one",
		KeyPrefix: "fg_live_abcd",
		Label:     "Claude Desktop",
	}
	if err := s.Insert(ctx, key); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if key.ID == "" || key.CreatedAt.IsZero() {
		t.Fatal("expected generated ID and CreatedAt")
	}

	// A second key sharing the prefix is allowed; prefixes are not unique.
	other := &model.APIKey{
		UserID:    user.ID,
		KeyHash:   "$2a$12$hash-two",
		KeyPrefix: "fg_live_abcd",
		Label:     "CI",
	}
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("Insert second key: %v", err)
	}

	candidates, err := s.FindByPrefix(ctx, "fg_live_abcd")
	if err != nil {
		t.Fatalf("FindByPrefix: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	empty, err := s.FindByPrefix(ctx, "fg_live_zzzz")
	if err != nil {
		t.Fatalf("FindByPrefix miss: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no candidates, got %d", len(empty))
	}
}

func TestInsertDuplicateHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "duphash@example.com")

	key := &model.APIKey{UserID: user.ID, KeyHash: "$2a$12$same", KeyPrefix: "fg_live_aaaa"}
	if err := s.Insert(ctx, key); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, &model.APIKey{UserID: user.ID, KeyHash: "$2a$12$same", KeyPrefix: "fg_live_aaaa"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestRevokedKeysStayVisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "revoke@example.com")

	key := &model.APIKey{UserID: user.ID, KeyHash: "$2a$12$h", KeyPrefix: "fg_live_beef", Label: "doomed"}
	if err := s.Insert(ctx, key); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Revoke(ctx, key.ID, user.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// A revoked key still surfaces in prefix lookups, carrying its
	// revocation time, so verification can report revoked rather than an
	// unknown credential.
	candidates, err := s.FindByPrefix(ctx, "fg_live_beef")
	if err != nil {
		t.Fatalf("FindByPrefix: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected the revoked key as a candidate, got %d", len(candidates))
	}
	if candidates[0].RevokedAt == nil {
		t.Error("candidate missing revoked_at")
	}

	// It stays in the user's key history too.
	listed, err := s.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(listed) != 1 || listed[0].RevokedAt == nil {
		t.Errorf("revoked key missing from history: %+v", listed)
	}

	// Revocation is terminal: a second revoke matches no rows.
	if err := s.Revoke(ctx, key.ID, user.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Revoke: expected ErrNotFound, got %v", err)
	}
}

func TestRevokeScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := newTestUser(t, s, "owner2@example.com")
	attacker := newTestUser(t, s, "attacker@example.com")

	key := &model.APIKey{UserID: owner.ID, KeyHash: "$2a$12$h2", KeyPrefix: "fg_live_cafe"}
	if err := s.Insert(ctx, key); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Revoke(ctx, key.ID, attacker.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user revoke: expected ErrNotFound, got %v", err)
	}
}

func TestTouchLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "touch@example.com")

	key := &model.APIKey{UserID: user.ID, KeyHash: "$2a$12$h3", KeyPrefix: "fg_live_f00d"}
	if err := s.Insert(ctx, key); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.TouchLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("TouchLastUsed: %v", err)
	}
	keys, _ := s.ListByUser(ctx, user.ID)
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	if err := s.TouchLastUsed(ctx, "no-such-key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLicenses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "lic@example.com")

	expiry := time.Now().UTC().Add(30 * 24 * time.Hour)
	lics := []*model.License{
		{UserID: user.ID, ThemeID: "equinox-fitness", Tier: "single", IsActive: true},
		{UserID: user.ID, ThemeID: "aurora-saas", Tier: "trial", IsActive: true, ExpiresAt: &expiry},
		{UserID: user.ID, ThemeID: "retired-theme", Tier: "single", IsActive: false},
	}
	for _, l := range lics {
		if err := s.GrantLicense(ctx, l); err != nil {
			t.Fatalf("GrantLicense(%s): %v", l.ThemeID, err)
		}
	}

	got, err := s.LicensesByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("LicensesByUser: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 licenses (filtering is the resolver's job), got %d", len(got))
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "instance_id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := s.SetSetting(ctx, "instance_id", "abc"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "instance_id", "def"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}

	v, err := s.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "def" {
		t.Errorf("expected upserted value, got %q", v)
	}
}

func TestCollectStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, "stats@example.com")

	if err := s.Insert(ctx, &model.APIKey{UserID: user.ID, KeyHash: "$2a$12$s1", KeyPrefix: "fg_live_0001"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.GrantLicense(ctx, &model.License{UserID: user.ID, ThemeID: "t", Tier: "single", IsActive: true}); err != nil {
		t.Fatalf("GrantLicense: %v", err)
	}

	st, err := s.CollectStats(ctx)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if st.Users != 1 || st.Keys != 1 || st.Licenses != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
