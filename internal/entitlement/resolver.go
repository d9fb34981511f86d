// Package entitlement maps a verified user to the themes and licenses they
// may access: the always-available baseline catalog plus whatever their
// purchased licenses unlock.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/store"
)

// Entitlements is the merged access set for one user.
type Entitlements struct {
	// Licenses are the user's currently usable licenses (active, unexpired).
	Licenses []model.License

	// FreeThemes is the baseline catalog every caller gets, authenticated
	// or not.
	FreeThemes []string

	// LicensedThemes are the theme IDs unlocked by Licenses, deduplicated.
	LicensedThemes []string
}

// Resolver resolves a user's entitlements. The verification service depends
// on this interface so it stays substitution-testable with an in-memory
// fake.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*Entitlements, error)
}

// StoreResolver resolves entitlements from the license store and a static
// baseline catalog. The clock is injectable so license-expiry boundaries
// are testable without sleeping.
type StoreResolver struct {
	licenses store.LicenseStore
	baseline []string
	now      func() time.Time
}

// NewStoreResolver creates a Resolver backed by the given license store.
// baseline is the free-theme catalog, typically from configuration. A nil
// now defaults to time.Now.
func NewStoreResolver(licenses store.LicenseStore, baseline []string, now func() time.Time) *StoreResolver {
	if now == nil {
		now = time.Now
	}
	return &StoreResolver{
		licenses: licenses,
		baseline: baseline,
		now:      now,
	}
}

// Resolve returns baseline ∪ purchased for the user. Licenses that are
// inactive or past their expiry are dropped here rather than in SQL, so
// the cutoff uses the resolver's clock.
func (r *StoreResolver) Resolve(ctx context.Context, userID string) (*Entitlements, error) {
	all, err := r.licenses.LicensesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve entitlements: %w", err)
	}

	now := r.now()
	usable := make([]model.License, 0, len(all))
	seen := make(map[string]bool)
	var themes []string

	for _, lic := range all {
		if !lic.Usable(now) {
			continue
		}
		usable = append(usable, lic)
		if !seen[lic.ThemeID] {
			seen[lic.ThemeID] = true
			themes = append(themes, lic.ThemeID)
		}
	}

	free := make([]string, len(r.baseline))
	copy(free, r.baseline)

	return &Entitlements{
		Licenses:       usable,
		FreeThemes:     free,
		LicensedThemes: themes,
	}, nil
}

// Accessible reports whether the user may use the given theme: free themes
// are always accessible, licensed ones require an entry in LicensedThemes.
func (e *Entitlements) Accessible(themeID string) bool {
	for _, id := range e.FreeThemes {
		if id == themeID {
			return true
		}
	}
	for _, id := range e.LicensedThemes {
		if id == themeID {
			return true
		}
	}
	return false
}
