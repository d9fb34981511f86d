// Package store persists users, API key records, and theme licenses in a
// relational database. The verification core depends only on the interfaces
// defined here; SQLStore is the sqlx-backed implementation used by the
// server and CLI.
package store

import (
	"context"
	"errors"

	"github.com/framingui/keygate/internal/model"
)

// ErrNotFound is returned when a requested record does not exist, or when a
// guarded update (e.g. revoke scoped by owner) matched no rows.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a uniqueness constraint is violated.
var ErrDuplicate = errors.New("record already exists")

// KeyStore is the persistence contract for API key records. The plaintext
// key never reaches this layer; callers store only the bcrypt hash and the
// non-secret lookup prefix. Hashes are write-once: rotation inserts a new
// record, it never updates a hash in place.
type KeyStore interface {
	// Insert persists a new key record. ID and CreatedAt are populated on
	// the record if unset.
	Insert(ctx context.Context, key *model.APIKey) error

	// FindByPrefix returns every non-revoked record sharing the given
	// lookup prefix. Prefixes are not unique; callers must try all
	// candidates. An empty result is not an error.
	FindByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error)

	// TouchLastUsed stamps the record's last_used_at with the current time.
	TouchLastUsed(ctx context.Context, id string) error

	// Revoke soft-deletes a key by setting revoked_at. The userID guard
	// ensures a user can only revoke their own keys. Revocation is
	// terminal; revoking an already-revoked key returns ErrNotFound.
	Revoke(ctx context.Context, id, userID string) error

	// ListByUser returns the user's non-revoked keys, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.APIKey, error)
}

// UserStore is the persistence contract for user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserLastLogin(ctx context.Context, id string) error
}

// LicenseStore is the persistence contract the entitlement resolver reads
// purchased licenses through.
type LicenseStore interface {
	GrantLicense(ctx context.Context, lic *model.License) error

	// LicensesByUser returns all of the user's licenses, active or not.
	// Expiry filtering is the resolver's job, evaluated against its clock.
	LicensesByUser(ctx context.Context, userID string) ([]model.License, error)
}

// Stats holds aggregate counts reported by the telemetry heartbeat.
type Stats struct {
	Users    int `json:"user_count"`
	Keys     int `json:"api_key_count"`
	Licenses int `json:"license_count"`
}
