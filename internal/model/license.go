package model

import "time"

// License grants a user access to one premium theme. Licenses may be
// perpetual (nil ExpiresAt) or time-limited (e.g. trials).
type License struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	ThemeID   string     `json:"themeId" db:"theme_id"`
	Tier      string     `json:"tier" db:"tier"` // single, bundle, trial
	IsActive  bool       `json:"isActive" db:"is_active"`
	ExpiresAt *time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time  `json:"-" db:"created_at"`
}

// Usable reports whether the license grants access at the given instant:
// it must be active and not past its expiry.
func (l *License) Usable(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}
