package auth

import (
	"net/http"
	"time"
)

const (
	RefreshCookieName = "refresh_token"
	// RefreshCookiePath scopes the cookie to the auth endpoints only.
	RefreshCookiePath = "/api/v1/auth"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string // Empty string = current host only
	Secure bool   // HTTPS only; disable for plain-http local development
}

// SetRefreshTokenCookie sets the refresh token in an HttpOnly, SameSite=Strict
// cookie whose Max-Age equals the token lifetime.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, ttl time.Duration, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     RefreshCookiePath,
		Domain:   config.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(w, cookie)
}

// ClearRefreshTokenCookie expires the refresh token cookie (Max-Age=0)
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(w, cookie)
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
