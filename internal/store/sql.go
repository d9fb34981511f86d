package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/framingui/keygate/internal/model"
)

// SQLStore implements KeyStore, UserStore, and LicenseStore over any
// sqlx-supported relational database. Queries are written with ?
// placeholders and rebound per driver, so the same store runs against the
// embedded SQLite database (dev, tests, single node) and Postgres via pgx
// (production). For SQLite the schema is migrated in place; a Postgres
// database is assumed to be provisioned with the equivalent schema.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the database identified by driver ("sqlite" or "pgx")
// and dsn. For SQLite, an empty dsn opens an in-memory database and a
// directory path places keygate.db inside it.
func Open(driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = "sqlite"
	}

	if driver == "sqlite" {
		var err error
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	s := &SQLStore{db: db}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		if err := s.migrate(); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	return s, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return ":memory:?_journal_mode=WAL", nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(path, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000", nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity, used by the readiness probe.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// ---------------------------------------------------------------------------
// KeyStore
// ---------------------------------------------------------------------------

// Insert persists a new API key record. The ID and CreatedAt fields are
// populated if unset. The hash is write-once: nothing in this store ever
// updates it after this insert.
func (s *SQLStore) Insert(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO api_keys
		(id, user_id, key_hash, key_prefix, label, created_at, last_used_at, expires_at, revoked_at)
		VALUES
		(:id, :user_id, :key_hash, :key_prefix, :label, :created_at, :last_used_at, :expires_at, :revoked_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// FindByPrefix returns every key record sharing the given lookup prefix,
// revoked ones included so verification can distinguish a revoked key
// from an unknown one. Prefixes are not unique across keys or users;
// callers try all candidates.
func (s *SQLStore) FindByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.db.Rebind(
		"SELECT * FROM api_keys WHERE key_prefix = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &keys, q, prefix); err != nil {
		return nil, fmt.Errorf("find api keys by prefix: %w", err)
	}
	return keys, nil
}

// TouchLastUsed stamps last_used_at with the current time. Verification
// treats a failure here as observability loss, not an error.
func (s *SQLStore) TouchLastUsed(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke soft-deletes a key by setting revoked_at, scoped to the owning
// user. Already-revoked keys are left untouched and reported as not found.
func (s *SQLStore) Revoke(ctx context.Context, id, userID string) error {
	q := s.db.Rebind(
		"UPDATE api_keys SET revoked_at = ? WHERE id = ? AND user_id = ? AND revoked_at IS NULL")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns all of the user's keys, revoked ones included,
// newest first.
func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.db.Rebind(
		"SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &keys, q, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. ID, CreatedAt, and UpdatedAt are
// populated if unset.
func (s *SQLStore) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Plan == "" {
		user.Plan = "free"
	}

	const q = `INSERT INTO users
		(id, email, password_hash, plan, is_active, last_login_at, created_at, updated_at)
		VALUES
		(:id, :email, :password_hash, :plan, :is_active, :last_login_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, user); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser looks up a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	q := s.db.Rebind("SELECT * FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &user, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail looks up a user by email address.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	q := s.db.Rebind("SELECT * FROM users WHERE email = ?")
	if err := s.db.GetContext(ctx, &user, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns all user accounts, newest first.
func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserLastLogin stamps the user's last_login_at with the current time.
func (s *SQLStore) UpdateUserLastLogin(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE users SET last_login_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// LicenseStore
// ---------------------------------------------------------------------------

// GrantLicense inserts a new theme license. ID and CreatedAt are populated
// if unset.
func (s *SQLStore) GrantLicense(ctx context.Context, lic *model.License) error {
	if lic.ID == "" {
		lic.ID = uuid.NewString()
	}
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO user_licenses
		(id, user_id, theme_id, tier, is_active, expires_at, created_at)
		VALUES
		(:id, :user_id, :theme_id, :tier, :is_active, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, lic); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// LicensesByUser returns all of the user's licenses. Activity and expiry
// filtering is left to the entitlement resolver and its clock.
func (s *SQLStore) LicensesByUser(ctx context.Context, userID string) ([]model.License, error) {
	var lics []model.License
	q := s.db.Rebind("SELECT * FROM user_licenses WHERE user_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &lics, q, userID); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return lics, nil
}

// ---------------------------------------------------------------------------
// Settings and aggregates
// ---------------------------------------------------------------------------

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	q := s.db.Rebind("SELECT value FROM settings WHERE key = ?")
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings key.
func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	q := s.db.Rebind(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// CollectStats gathers the aggregate counts reported by telemetry.
func (s *SQLStore) CollectStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.GetContext(ctx, &st.Users, "SELECT COUNT(*) FROM users"); err != nil {
		return st, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.Keys, "SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL"); err != nil {
		return st, fmt.Errorf("count api keys: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.Licenses, "SELECT COUNT(*) FROM user_licenses WHERE is_active = 1"); err != nil {
		return st, fmt.Errorf("count licenses: %w", err)
	}
	return st, nil
}
