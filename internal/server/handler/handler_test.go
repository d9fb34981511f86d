package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/framingui/keygate/internal/apikey"
	"github.com/framingui/keygate/internal/entitlement"
	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/ratelimit"
	"github.com/framingui/keygate/internal/server/middleware"
	"github.com/framingui/keygate/internal/service"
	"github.com/framingui/keygate/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withSession injects an authenticated principal the way the session
// middleware would.
func withSession(userID, email string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.SessionKey,
			&service.SessionPrincipal{UserID: userID, Email: email})
		next(w, r.WithContext(ctx))
	}
}

type memKeys struct {
	keys []model.APIKey
	seq  int
}

func (m *memKeys) Insert(ctx context.Context, key *model.APIKey) error {
	m.seq++
	key.ID = "key-" + string(rune('a'+m.seq))
	key.CreatedAt = time.Now()
	m.keys = append(m.keys, *key)
	return nil
}

func (m *memKeys) FindByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	var out []model.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) TouchLastUsed(ctx context.Context, id string) error { return nil }

func (m *memKeys) Revoke(ctx context.Context, id, userID string) error {
	for i := range m.keys {
		if m.keys[i].ID == id && m.keys[i].UserID == userID && !m.keys[i].Revoked() {
			now := time.Now()
			m.keys[i].RevokedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memKeys) ListByUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	var out []model.APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

type memUsers struct {
	users map[string]*model.User
}

func (m *memUsers) CreateUser(ctx context.Context, u *model.User) error { return nil }
func (m *memUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}
func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}
func (m *memUsers) ListUsers(ctx context.Context) ([]model.User, error)      { return nil, nil }
func (m *memUsers) UpdateUserLastLogin(ctx context.Context, id string) error { return nil }

type staticResolver struct{ ents entitlement.Entitlements }

func (s *staticResolver) Resolve(ctx context.Context, userID string) (*entitlement.Entitlements, error) {
	ents := s.ents
	return &ents, nil
}

func TestVerifyEndpoint(t *testing.T) {
	hasher := apikey.NewHasher(bcrypt.MinCost)
	plaintext := apikey.Generate()
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatal(err)
	}

	keys := &memKeys{keys: []model.APIKey{{
		ID: "k1", UserID: "u1", KeyHash: hash,
		KeyPrefix: apikey.Prefix(plaintext), Label: "ci", CreatedAt: time.Now(),
	}}}
	users := &memUsers{users: map[string]*model.User{"u1": {
		ID: "u1", Email: "dev@example.com", Plan: "pro", IsActive: true,
	}}}
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver := &staticResolver{ents: entitlement.Entitlements{
		Licenses: []model.License{{
			ThemeID: "aurora", Tier: "single", IsActive: true, ExpiresAt: &expiry,
		}},
		FreeThemes:     []string{"starter", "minimal"},
		LicensedThemes: []string{"aurora"},
	}}
	limiter := ratelimit.NewMemory(ratelimit.Limits{
		Routes:  map[string]ratelimit.Limit{ratelimit.RouteVerify: {Requests: 3, Window: time.Minute}},
		Default: ratelimit.Limit{Requests: 3, Window: time.Minute},
	})
	defer limiter.Close()

	verifier := service.NewVerifier(keys, users, resolver, hasher, limiter, discardLogger())
	h := NewVerifyHandler(verifier, discardLogger())

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/mcp/verify", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.Verify(rec, req)
		return rec
	}

	t.Run("valid key", func(t *testing.T) {
		rec := do("Bearer " + plaintext)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}

		var body model.VerifySuccess
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if !body.Valid {
			t.Fatal("valid = false")
		}
		if body.User.Email != "dev@example.com" || body.User.Plan != "pro" {
			t.Fatalf("user = %+v", body.User)
		}
		if len(body.Licenses) != 1 || body.Licenses[0].ThemeID != "aurora" {
			t.Fatalf("licenses = %+v", body.Licenses)
		}
		if body.Licenses[0].ExpiresAt == nil || *body.Licenses[0].ExpiresAt != "2027-01-01T00:00:00Z" {
			t.Fatalf("expiresAt = %v", body.Licenses[0].ExpiresAt)
		}
		if len(body.Themes.Free) != 2 || len(body.Themes.Licensed) != 1 {
			t.Fatalf("themes = %+v", body.Themes)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "3" {
			t.Fatalf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("rejected key", func(t *testing.T) {
		rec := do("Bearer " + apikey.Namespace + strings.Repeat("f", 64))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}

		var body model.VerifyFailure
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Valid {
			t.Fatal("valid = true for rejected key")
		}
		if body.Error != "invalid_credential" {
			t.Fatalf("error = %q", body.Error)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		rec := do("")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("throttled", func(t *testing.T) {
		// The limit is 3 per subject; the valid-key subtest used one unit
		// of the key's prefix window.
		do("Bearer " + plaintext)
		do("Bearer " + plaintext)
		rec := do("Bearer " + plaintext)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatal("Retry-After missing")
		}

		var body model.VerifyFailure
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error != "rate_limited" || body.RetryAfter < 1 {
			t.Fatalf("body = %+v", body)
		}
	})
}

func TestVerifyEndpointBackendFailure(t *testing.T) {
	hasher := apikey.NewHasher(bcrypt.MinCost)
	limiter := ratelimit.NewMemory(ratelimit.DefaultLimits())
	defer limiter.Close()

	verifier := service.NewVerifier(failingKeys{}, &memUsers{}, &staticResolver{}, hasher, limiter, discardLogger())
	h := NewVerifyHandler(verifier, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/mcp/verify", nil)
	req.Header.Set("Authorization", "Bearer "+apikey.Generate())
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("backend failure returned %d, want 500", rec.Code)
	}
	var body model.VerifyFailure
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "internal_error" {
		t.Fatalf("error = %q, must not look like an auth decision", body.Error)
	}
	// The limiter ruled before the lookup failed; its headers still ride
	// on the 500.
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("rate limit headers missing on backend failure")
	}
}

type failingKeys struct{}

func (failingKeys) Insert(ctx context.Context, key *model.APIKey) error { return nil }
func (failingKeys) FindByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	return nil, context.DeadlineExceeded
}
func (failingKeys) TouchLastUsed(ctx context.Context, id string) error  { return nil }
func (failingKeys) Revoke(ctx context.Context, id, userID string) error { return nil }
func (failingKeys) ListByUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	return nil, nil
}

func newKeyRouter(t *testing.T) (*chi.Mux, *memKeys) {
	t.Helper()
	ks := &memKeys{}
	svc := service.NewKeyService(ks, apikey.NewHasher(bcrypt.MinCost))
	h := NewKeyHandler(svc, discardLogger())

	r := chi.NewRouter()
	r.Get("/api/user/api-keys", withSession("u1", "dev@example.com", h.List))
	r.Post("/api/user/api-keys", withSession("u1", "dev@example.com", h.Create))
	r.Delete("/api/user/api-keys/{keyID}", withSession("u1", "dev@example.com", h.Revoke))
	return r, ks
}

func TestKeyLifecycle(t *testing.T) {
	r, _ := newKeyRouter(t)

	// Create.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/user/api-keys",
		bytes.NewBufferString(`{"label":"laptop"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Key     string     `json:"key"`
		Details keySummary `json:"details"`
		Warning string     `json:"warning"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !apikey.ValidFormat(created.Key) {
		t.Fatalf("plaintext %q not a valid key", created.Key)
	}
	if created.Details.Prefix != apikey.Prefix(created.Key) {
		t.Fatal("summary prefix does not match plaintext")
	}
	if created.Warning == "" {
		t.Fatal("one-time warning missing")
	}
	if strings.Contains(rec.Body.String(), created.Details.ID) && strings.Contains(rec.Body.String(), "key_hash") {
		t.Fatal("hash leaked in create response")
	}

	// List shows the key without plaintext or hash.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/api-keys", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Key) {
		t.Fatal("plaintext leaked in list response")
	}
	var listed struct {
		Keys []keySummary `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Keys) != 1 || listed.Keys[0].Label != "laptop" {
		t.Fatalf("keys = %+v", listed.Keys)
	}

	// Revoke, then revoke again.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/user/api-keys/"+created.Details.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/user/api-keys/"+created.Details.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second revoke: %d", rec.Code)
	}

	// The revoked key stays in the listing, carrying its revocation time.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/api-keys", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Keys) != 1 || listed.Keys[0].RevokedAt == nil {
		t.Fatalf("revoked key missing from listing: %+v", listed.Keys)
	}
}

func TestKeyCreateValidation(t *testing.T) {
	r, _ := newKeyRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing label", `{}`, http.StatusBadRequest},
		{"label too long", `{"label":"` + strings.Repeat("x", 101) + `"}`, http.StatusBadRequest},
		{"past expiry", `{"label":"ci","expiresAt":"2020-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/user/api-keys",
				bytes.NewBufferString(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestLoginEndpoint(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	users := &memUsers{users: map[string]*model.User{"u1": {
		ID: "u1", Email: "dev@example.com", PasswordHash: string(hash), Plan: "pro", IsActive: true,
	}}}
	sessions := service.NewSessionService(users, "handler-secret", time.Hour)
	h := NewSessionHandler(sessions, discardLogger())

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/user/session", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.Login(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := do(`{"email":"dev@example.com","password":"correct-horse"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}

		var body struct {
			Token string            `json:"token"`
			User  map[string]string `json:"user"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Token == "" || body.User["plan"] != "pro" {
			t.Fatalf("body = %+v", body)
		}
		if _, err := sessions.ValidateToken(context.Background(), body.Token); err != nil {
			t.Fatalf("issued token does not validate: %v", err)
		}

		found := false
		for _, c := range rec.Result().Cookies() {
			if c.Name == middleware.SessionCookie && c.Value == body.Token && c.HttpOnly {
				found = true
			}
		}
		if !found {
			t.Fatal("session cookie not set")
		}
	})

	t.Run("bad password", func(t *testing.T) {
		rec := do(`{"email":"dev@example.com","password":"wrong"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := do(`{"email":"dev@example.com"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("logout clears cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Logout(rec, httptest.NewRequest(http.MethodDelete, "/api/user/session", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		cleared := false
		for _, c := range rec.Result().Cookies() {
			if c.Name == middleware.SessionCookie && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Fatal("cookie not cleared")
		}
	})
}
