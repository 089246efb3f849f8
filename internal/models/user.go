package models

import (
	"strings"
	"time"
)

// Credential is the authentication-relevant slice of a POS user account.
// This service reads the identity fields and only ever writes the password
// hash and lockout fields.
type Credential struct {
	ID                string
	TenantID          string
	Email             string
	FullName          string
	PasswordHash      string
	PasswordChangedAt *time.Time
	FailedAttempts    int
	LockedUntil       *time.Time
	Active            bool
	RoleID            string
	BranchID          *string // nil for tenant-wide users
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Identity is the set of facts embedded into an access token.
type Identity struct {
	UserID   string
	TenantID string
	Email    string
	RoleID   string
	BranchID string
}

// Identity projects the claims-bearing fields of the credential.
func (c *Credential) Identity() Identity {
	id := Identity{
		UserID:   c.ID,
		TenantID: c.TenantID,
		Email:    c.Email,
		RoleID:   c.RoleID,
	}
	if c.BranchID != nil {
		id.BranchID = *c.BranchID
	}
	return id
}

// IsLocked reports whether the persisted lock is still in force at now.
func (c *Credential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// WithSuccessfulLogin returns a copy with the failure counter and lock cleared.
func (c Credential) WithSuccessfulLogin() Credential {
	c.FailedAttempts = 0
	c.LockedUntil = nil
	return c
}

// WithFailedLogin returns a copy carrying the current window failure count and lock.
func (c Credential) WithFailedLogin(count int, lockedUntil *time.Time) Credential {
	c.FailedAttempts = count
	c.LockedUntil = lockedUntil
	return c
}

// WithPasswordHash returns a copy with a new hash; changing the password
// also lifts any lock.
func (c Credential) WithPasswordHash(hash string, at time.Time) Credential {
	c.PasswordHash = hash
	c.PasswordChangedAt = &at
	c.FailedAttempts = 0
	c.LockedUntil = nil
	return c
}

// NormalizeEmail lowercases and trims an address before any lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
