package model

import "time"

// APIKey represents an issued MCP credential. The plaintext key is shown
// exactly once at creation; only a bcrypt hash and a short non-secret prefix
// are persisted.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	KeyHash    string     `json:"-" db:"key_hash"` // bcrypt digest, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	Label      string     `json:"label" db:"label"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt  *time.Time `json:"-" db:"revoked_at"`
}

// Revoked reports whether the key has been permanently deactivated.
// A revoked key never verifies again.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Expired reports whether the key's expiry, if set, has passed at the given
// instant. A nil ExpiresAt means the key never expires.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
