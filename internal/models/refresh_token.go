package models

import "time"

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRotated         = "rotated"
	RevokeReasonLogout          = "logout"
	RevokeReasonLogoutAll       = "logout_all"
	RevokeReasonPasswordChange  = "password_change"
	RevokeReasonSuspiciousReuse = "suspicious_reuse"
	RevokeReasonAccountDisabled = "account_disabled"
	RevokeReasonSessionRevoked  = "session_revoked"
)

// RefreshToken is the persisted form of an opaque refresh token.
// Only the SHA-256 digest of the plaintext is stored.
type RefreshToken struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	TokenHash     string     `json:"-"`
	FamilyID      string     `json:"family_id"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `json:"revoked_reason,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be presented at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revoke returns a revoked copy. Revoking twice keeps the first reason and time.
func (t RefreshToken) Revoke(reason string, at time.Time) RefreshToken {
	if t.RevokedAt != nil {
		return t
	}
	t.RevokedAt = &at
	t.RevokedReason = &reason
	return t
}

// Session returns the client-visible projection of the token.
func (t *RefreshToken) Session() Session {
	return Session{
		ID:        t.ID,
		FamilyID:  t.FamilyID,
		IPAddress: t.IPAddress,
		UserAgent: t.UserAgent,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

// Session describes one live login of a user. It never carries the token digest.
type Session struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}
