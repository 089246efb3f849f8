package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("authentication failed")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and token errors
	ErrInvalidToken           = errors.New("invalid token")
	ErrAccountLocked          = errors.New("account is temporarily locked")
	ErrPasswordPolicy         = errors.New("password does not meet policy")
	ErrPasswordCompromised    = errors.New("password found in breach corpus")
	ErrBreachCheckUnavailable = errors.New("breach check service unavailable")
)

// PolicyViolation identifies which length bound a password broke.
type PolicyViolation string

const (
	PolicyTooShort PolicyViolation = "too_short"
	PolicyTooLong  PolicyViolation = "too_long"
)

// PasswordPolicyError reports a password outside the configured length bounds.
type PasswordPolicyError struct {
	Violation PolicyViolation
	Limit     int
}

func (e *PasswordPolicyError) Error() string {
	switch e.Violation {
	case PolicyTooShort:
		return fmt.Sprintf("password must be at least %d characters", e.Limit)
	case PolicyTooLong:
		return fmt.Sprintf("password must be at most %d characters", e.Limit)
	default:
		return ErrPasswordPolicy.Error()
	}
}

func (e *PasswordPolicyError) Is(target error) bool { return target == ErrPasswordPolicy }

// CompromisedPasswordError reports how often a password appeared in the breach corpus.
type CompromisedPasswordError struct {
	Count int
}

func (e *CompromisedPasswordError) Error() string {
	return fmt.Sprintf("password has appeared in %d known breaches", e.Count)
}

func (e *CompromisedPasswordError) Is(target error) bool { return target == ErrPasswordCompromised }

// TokenKind names the family of token a failure refers to.
type TokenKind string

const (
	TokenKindAccess        TokenKind = "access"
	TokenKindRefresh       TokenKind = "refresh"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// TokenReason is the machine-readable cause of a token rejection.
// Reasons stay server side; clients only ever see a generic message.
type TokenReason string

const (
	TokenExpired          TokenReason = "expired"
	TokenMalformed        TokenReason = "malformed"
	TokenInvalidSignature TokenReason = "invalid_signature"
	TokenWrongAlgorithm   TokenReason = "wrong_algorithm"
	TokenIssuerMismatch   TokenReason = "issuer_mismatch"
	TokenRevoked          TokenReason = "revoked"
	TokenAlreadyUsed      TokenReason = "already_used"
	TokenNotFound         TokenReason = "not_found"
)

// InvalidTokenError is returned for every rejected access, refresh or reset token.
type InvalidTokenError struct {
	Kind   TokenKind
	Reason TokenReason
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid %s token: %s", e.Kind, e.Reason)
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

// NewInvalidToken builds an InvalidTokenError.
func NewInvalidToken(kind TokenKind, reason TokenReason) error {
	return &InvalidTokenError{Kind: kind, Reason: reason}
}

// TokenReasonOf extracts the rejection reason from err, if it carries one.
func TokenReasonOf(err error) (TokenReason, bool) {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason, true
	}
	return "", false
}

// AccountLockedError is the only login failure surfaced distinctly to callers.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }
