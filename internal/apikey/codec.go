// Package apikey generates, formats, and hashes MCP API keys.
//
// A key looks like "fg_live_" followed by 64 lowercase hex characters
// (32 bytes from crypto/rand). The first 12 characters form a non-secret
// prefix that is stored alongside the hash and used to narrow lookups;
// prefix collisions across keys are expected and harmless.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// Namespace is the fixed literal every key starts with. It marks the
	// issuing environment and lets clients (and the service) reject
	// obviously foreign tokens without any expensive work.
	Namespace = "fg_live_"

	// BodyBytes is the number of random bytes in the key body. 32 bytes
	// (256 bits) hex-encode to 64 characters.
	BodyBytes = 32

	// PlaintextLen is the total length of a well-formed key.
	PlaintextLen = len(Namespace) + BodyBytes*2

	// PrefixLen is the length of the stored lookup prefix: the namespace
	// plus four hex characters. Short enough to leak negligible entropy,
	// long enough to keep candidate sets small.
	PrefixLen = len(Namespace) + 4
)

// Generate mints a new key plaintext from the operating system's CSPRNG.
// The plaintext must be shown to the caller exactly once and never
// persisted; its lookup prefix is derived with Prefix.
//
// A failing random source is unrecoverable: Generate panics rather than
// fall back to a weaker generator.
func Generate() string {
	body := make([]byte, BodyBytes)
	if _, err := rand.Read(body); err != nil {
		panic(fmt.Sprintf("apikey: crypto/rand unavailable: %v", err))
	}
	return Namespace + hex.EncodeToString(body)
}

// Prefix derives the lookup prefix from a presented plaintext. It is the
// same deterministic function applied at issuance, so a presented key maps
// to the prefix stored with its record.
//
// The caller must have validated the format first; Prefix panics on inputs
// shorter than the prefix length.
func Prefix(plaintext string) string {
	return plaintext[:PrefixLen]
}

// ValidFormat reports whether a presented token has the exact shape of an
// issued key: the namespace literal followed by 64 lowercase hex characters.
// This is a correctness check, not a secrecy check - it exists to reject
// obviously bogus input before any store or hasher work.
func ValidFormat(plaintext string) bool {
	if len(plaintext) != PlaintextLen {
		return false
	}
	if plaintext[:len(Namespace)] != Namespace {
		return false
	}
	for i := len(Namespace); i < len(plaintext); i++ {
		c := plaintext[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
