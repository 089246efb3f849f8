package models

import (
	"time"
)

// ResetState is the lifecycle position of a password reset token.
type ResetState string

const (
	ResetStateIssued   ResetState = "issued"
	ResetStateConsumed ResetState = "consumed"
	ResetStateExpired  ResetState = "expired"
)

// PasswordResetToken represents a single-use password reset token
type PasswordResetToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // Never expose token hash
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// State reports the token state at now. Consumption wins over expiry.
func (t *PasswordResetToken) State(now time.Time) ResetState {
	switch {
	case t.IsUsed():
		return ResetStateConsumed
	case t.IsExpired(now):
		return ResetStateExpired
	default:
		return ResetStateIssued
	}
}

// MarkUsed returns a consumed copy of the token.
func (t PasswordResetToken) MarkUsed(at time.Time) PasswordResetToken {
	if t.UsedAt == nil {
		t.UsedAt = &at
	}
	return t
}
