package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/models"
)

const signingAlgorithm = "RS256"

// TokenConfig holds access-token issuance settings
type TokenConfig struct {
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration
}

// TokenManager issues and validates RS256 access tokens. Tokens signed with
// a previous key stay valid until they expire, which lets keys rotate
// without logging everyone out.
type TokenManager struct {
	config TokenConfig
	keys   KeySet
	clock  clock.Clock
	logger *slog.Logger
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(config TokenConfig, keys KeySet, clk clock.Clock, logger *slog.Logger) (*TokenManager, error) {
	if keys.Private == nil || keys.Current == nil {
		return nil, errors.New("signing and verification keys are required")
	}
	if config.TTL <= 0 {
		return nil, errors.New("access token TTL must be positive")
	}
	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	return &TokenManager{
		config: config,
		keys:   keys,
		clock:  clk,
		logger: logger,
	}, nil
}

// TTL returns the access token lifetime.
func (tm *TokenManager) TTL() time.Duration {
	return tm.config.TTL
}

// Issue signs an access token for the identity and returns it with its expiry.
func (tm *TokenManager) Issue(id models.Identity) (string, time.Time, error) {
	now := tm.clock.Now()
	expiresAt := now.Add(tm.config.TTL)

	claims := &models.AccessClaims{
		Email:    id.Email,
		TenantID: id.TenantID,
		RoleID:   id.RoleID,
		BranchID: id.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        uuid.NewString(),
			Issuer:    tm.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(tm.keys.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the token against the current key and, on a signature
// mismatch only, against each previous key in order.
func (tm *TokenManager) Validate(tokenString string) (*models.AccessClaims, error) {
	claims, reason := tm.verifyWith(tokenString, tm.keys.Current)
	if reason == "" {
		return claims, nil
	}
	if reason != models.TokenInvalidSignature {
		return nil, models.NewInvalidToken(models.TokenKindAccess, reason)
	}

	for i, key := range tm.keys.Previous {
		claims, reason = tm.verifyWith(tokenString, key)
		if reason == "" {
			tm.logger.Warn("access token accepted during key rotation window",
				slog.Int("previous_key_index", i),
				slog.String("subject", claims.Subject))
			return claims, nil
		}
		if reason != models.TokenInvalidSignature {
			return nil, models.NewInvalidToken(models.TokenKindAccess, reason)
		}
	}

	return nil, models.NewInvalidToken(models.TokenKindAccess, models.TokenInvalidSignature)
}

func (tm *TokenManager) verifyWith(tokenString string, key *rsa.PublicKey) (*models.AccessClaims, models.TokenReason) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithIssuer(tm.config.Issuer),
		jwt.WithLeeway(tm.config.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.clock.Now),
	)

	claims := &models.AccessClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, classifyParseError(token, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, models.TokenMalformed
	}
	return claims, ""
}

// classifyParseError maps golang-jwt errors onto rejection reasons. The
// header algorithm is inspected before the signature error because the
// library reports a disallowed algorithm as a signature failure.
func classifyParseError(token *jwt.Token, err error) models.TokenReason {
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return models.TokenMalformed
	}
	if token != nil && token.Header != nil {
		if alg, _ := token.Header["alg"].(string); alg != signingAlgorithm {
			return models.TokenWrongAlgorithm
		}
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.TokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return models.TokenIssuerMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return models.TokenInvalidSignature
	default:
		return models.TokenMalformed
	}
}
