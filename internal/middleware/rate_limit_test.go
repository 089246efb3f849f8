package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/models"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remote
	return req
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("198.51.100.10:4000"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.10:4001"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.11:4000"))
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own bucket")
}

func TestRateLimitByIP_IgnoresSpoofedForwardingFromUntrustedPeer(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	first := requestFrom("198.51.100.20:4000")
	first.Header.Set("X-Forwarded-For", "203.0.113.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	require.Equal(t, http.StatusOK, w.Code)

	second := requestFrom("198.51.100.20:4000")
	second.Header.Set("X-Forwarded-For", "203.0.113.2")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitByIP_TrustedProxyUsesForwardedClient(t *testing.T) {
	ipCfg, err := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1, IPConfig: ipCfg})(okHandler())

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		req := requestFrom("10.1.2.3:4000")
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, client)
	}
}

func TestRateLimitByUserID_IsolatesPrincipals(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	serve := func(userID string) int {
		req := requestFrom("198.51.100.30:4000")
		req = req.WithContext(auth.WithPrincipal(req.Context(), &models.Principal{UserID: userID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve("user-a"))
	assert.Equal(t, http.StatusOK, serve("user-a"))
	assert.Equal(t, http.StatusTooManyRequests, serve("user-a"))
	assert.Equal(t, http.StatusOK, serve("user-b"))
}

func TestRateLimitByUserID_FallsBackToIP(t *testing.T) {
	handler := RateLimitByUserID(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.40:4000"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.40:4000"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
