package apikey

import (
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	plaintext := Generate()

	if len(plaintext) != PlaintextLen {
		t.Errorf("plaintext length: got %d, want %d", len(plaintext), PlaintextLen)
	}
	if !strings.HasPrefix(plaintext, Namespace) {
		t.Errorf("plaintext %q does not start with namespace %q", plaintext, Namespace)
	}
	if !ValidFormat(plaintext) {
		t.Errorf("generated plaintext %q fails ValidFormat", plaintext)
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		plaintext := Generate()
		if seen[plaintext] {
			t.Fatalf("duplicate key generated: %q", plaintext)
		}
		seen[plaintext] = true
	}
}

func TestPrefixDeterministic(t *testing.T) {
	plaintext := Generate()

	// The derived prefix is a pure function of the plaintext: repeated
	// derivations agree with each other.
	want := plaintext[:PrefixLen]
	for i := 0; i < 3; i++ {
		if got := Prefix(plaintext); got != want {
			t.Fatalf("Prefix call %d: got %q, want %q", i, got, want)
		}
	}
}

func TestValidFormat(t *testing.T) {
	valid := Generate()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"generated key", valid, true},
		{"empty", "", false},
		{"namespace only", Namespace, false},
		{"wrong namespace", "sk_live_" + strings.Repeat("a", 64), false},
		{"too short", Namespace + strings.Repeat("a", 63), false},
		{"too long", Namespace + strings.Repeat("a", 65), false},
		{"uppercase hex", Namespace + strings.Repeat("A", 64), false},
		{"non-hex body", Namespace + strings.Repeat("z", 64), false},
		{"hex with space", Namespace + strings.Repeat("a", 63) + " ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidFormat(tt.token); got != tt.want {
				t.Errorf("ValidFormat(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}
