package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/framingui/keygate/internal/apikey"
	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/store"
)

// ErrKeyNotFound is returned when a revoke targets a key that does not
// exist, belongs to someone else, or is already revoked. The three cases
// are indistinguishable to the caller.
var ErrKeyNotFound = errors.New("api key not found")

// MaxKeysPerUser caps how many live keys one account can hold.
const MaxKeysPerUser = 20

var ErrKeyQuota = fmt.Errorf("at most %d active keys per account", MaxKeysPerUser)

// ErrPastExpiry is returned when a new key's expiry is not in the future.
var ErrPastExpiry = errors.New("expiry must be in the future")

// KeyService issues, lists, and revokes API keys on behalf of an
// authenticated user.
type KeyService struct {
	keys   store.KeyStore
	hasher *apikey.Hasher
	now    func() time.Time
}

func NewKeyService(keys store.KeyStore, hasher *apikey.Hasher) *KeyService {
	return &KeyService{keys: keys, hasher: hasher, now: time.Now}
}

// IssuedKey pairs a stored key record with its plaintext. The plaintext
// exists only in this value and is shown to the caller exactly once.
type IssuedKey struct {
	Key       model.APIKey
	Plaintext string
}

// Create mints a new key for the user. expiresAt may be nil for a
// non-expiring key.
func (s *KeyService) Create(ctx context.Context, userID, label string, expiresAt *time.Time) (*IssuedKey, error) {
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, ErrPastExpiry
	}

	existing, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	live := 0
	for _, k := range existing {
		if !k.Revoked() {
			live++
		}
	}
	if live >= MaxKeysPerUser {
		return nil, ErrKeyQuota
	}

	plaintext := apikey.Generate()
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}

	key := model.APIKey{
		UserID:    userID,
		KeyHash:   hash,
		KeyPrefix: apikey.Prefix(plaintext),
		Label:     label,
		ExpiresAt: expiresAt,
	}
	if err := s.keys.Insert(ctx, &key); err != nil {
		return nil, fmt.Errorf("storing key: %w", err)
	}

	return &IssuedKey{Key: key, Plaintext: plaintext}, nil
}

// List returns all of the user's keys, revoked ones included, newest
// first. Hashes never leave the store layer.
func (s *KeyService) List(ctx context.Context, userID string) ([]model.APIKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

// Revoke permanently disables a key the user owns.
func (s *KeyService) Revoke(ctx context.Context, userID, keyID string) error {
	err := s.keys.Revoke(ctx, keyID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}
