package apikey

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used in production. At cost 12 a
// single comparison takes tens of milliseconds on commodity hardware, which
// is the point: it bounds offline brute force if the hash store is ever
// exfiltrated.
const DefaultCost = 12

// Hasher performs one-way hashing of plaintext keys and constant-time
// verification of presented keys against stored digests. The constant-time
// guarantee belongs to bcrypt itself; Hasher never compares digests as
// strings.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher creates a Hasher with the given bcrypt cost. Costs outside
// bcrypt's supported range are clamped to DefaultCost. The dummy digest
// used for equal-cost comparisons on lookup misses is computed once here,
// at the same cost as real digests.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("keygate-dummy-comparison-subject"), cost)
	if err != nil {
		panic(fmt.Sprintf("apikey: bcrypt dummy digest: %v", err))
	}
	return &Hasher{cost: cost, dummy: dummy}
}

// Hash derives the storable digest for a plaintext key. bcrypt salts every
// digest, so hashing the same plaintext twice yields different digests that
// both verify.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext is the key that produced digest. It
// always runs the full bcrypt comparison regardless of outcome.
func (h *Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// VerifyDummy burns one full-cost comparison against a fixed digest that no
// real key hashes to. The verification service calls this when a prefix
// lookup finds no candidates, so a request costs the same whether or not
// the prefix matched anything.
func (h *Hasher) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}

// Cost returns the configured bcrypt cost factor.
func (h *Hasher) Cost() int {
	return h.cost
}
