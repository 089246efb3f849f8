package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/quickstack/pos-auth/internal/auth"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which forwarding headers are trusted when keying by client IP.
	IPConfig *pkghttp.IPConfig
}

// DefaultAuthRateLimit returns the default limit for the public auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// RateLimitByIP limits requests per client IP. The key comes from
// pkghttp.ExtractClientIP so a spoofed X-Forwarded-For from an untrusted
// peer cannot move a caller into a fresh bucket.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUserID limits authenticated requests per principal, falling
// back to the client IP when no principal is present.
func RateLimitByUserID(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				return "user:" + p.UserID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
