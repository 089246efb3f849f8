package models

import "time"

// Failure reason codes stored with unsuccessful login attempts.
const (
	FailureUserNotFound       = "user_not_found"
	FailureInvalidCredentials = "invalid_credentials"
	FailureAccountLocked      = "account_locked"
	FailureAccountInactive    = "account_inactive"
)

// LoginAttempt is one row of the append-only login audit log.
type LoginAttempt struct {
	ID            string    `db:"id"`
	Email         string    `db:"email"`
	UserID        *string   `db:"user_id"`
	TenantID      string    `db:"tenant_id"`
	Success       bool      `db:"success"`
	FailureReason *string   `db:"failure_reason"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	CreatedAt     time.Time `db:"created_at"`
}

// LockStatus aggregates the lockout decision for one (tenant, email) pair.
type LockStatus struct {
	FailedCount int
	WindowStart time.Time
	LastFailure *time.Time
	Locked      bool
	LockedUntil *time.Time
}
