package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quickstack/pos-auth/internal/models"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing the authenticated principal in context
	PrincipalContextKey contextKey = "principal"
)

// AccessTokenValidator is satisfied by *TokenManager.
type AccessTokenValidator interface {
	Validate(token string) (*models.AccessClaims, error)
}

// AuthMiddleware validates the bearer access token and injects the principal
// into the request context. Rejection reasons are logged, never returned.
func AuthMiddleware(validator AccessTokenValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			claims, err := validator.Validate(tokenString)
			if err != nil {
				if reason, ok := models.TokenReasonOf(err); ok {
					logger.Debug("access token rejected", slog.String("reason", string(reason)))
				}
				pkghttp.WriteUnauthorized(w, "Invalid or expired session")
				return
			}

			ctx := WithPrincipal(r.Context(), models.PrincipalFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*models.Principal)
	return p, ok && p != nil
}
