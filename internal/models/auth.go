package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the payload of an RS256 access token.
// sub, jti, iss, iat and exp come from the embedded registered claims.
type AccessClaims struct {
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	RoleID   string `json:"role_id"`
	BranchID string `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID   string
	TenantID string
	Email    string
	RoleID   string
	BranchID string
	TokenID  string
}

// PrincipalFromClaims builds the request principal from validated claims.
func PrincipalFromClaims(c *AccessClaims) *Principal {
	return &Principal{
		UserID:   c.Subject,
		TenantID: c.TenantID,
		Email:    c.Email,
		RoleID:   c.RoleID,
		BranchID: c.BranchID,
		TokenID:  c.ID,
	}
}
