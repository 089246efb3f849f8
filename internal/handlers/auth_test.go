package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/handlers"
	"github.com/quickstack/pos-auth/internal/models"
	"github.com/quickstack/pos-auth/internal/services"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantID = "6f1c0a4e-2b5d-4c1e-9a0f-3d2b1c4e5f60"
	userID   = "0b9e7d62-8c1a-4f3e-b5d2-7a6c9e8f1d20"
	roleID   = "a3d5f7b9-1c2e-4d6f-8a0b-9c1d2e3f4a50"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newHandler(authSvc handlers.AuthServiceInterface, reset handlers.PasswordResetServiceInterface, notifier services.ResetNotifier) *handlers.AuthHandler {
	if reset == nil {
		reset = &handlers.MockPasswordResetService{}
	}
	if notifier == nil {
		notifier = &services.MockResetNotifier{}
	}
	return handlers.NewAuthHandler(
		authSvc,
		reset,
		notifier,
		auth.NewTimingDelay(auth.TimingConfig{}),
		handlers.AuthHandlerConfig{
			Cookies:    auth.CookieConfig{Secure: true},
			RefreshTTL: 7 * 24 * time.Hour,
		},
		clock.NewManual(now),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func authResult() *services.AuthResult {
	return &services.AuthResult{
		AccessToken:     "access-token",
		AccessExpiresAt: now.Add(15 * time.Minute),
		RefreshToken:    "refresh-token",
		User:            &services.UserResponse{ID: userID, TenantID: tenantID, Email: "cashier@example.com"},
	}
}

func loginBody() handlers.LoginRequest {
	return handlers.LoginRequest{TenantID: tenantID, Email: "cashier@example.com", Password: "counter-top-1984!"}
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			got = in
			return authResult(), nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", loginBody())
	req.Header.Set("User-Agent", "register-7")
	w := httptest.NewRecorder()
	newHandler(mockAuth, nil, nil).Login(w, req)

	var resp handlers.TokenResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, userID, resp.User.ID)
	assert.NotContains(t, w.Body.String(), "refresh-token")

	cookie := handlers.RefreshCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, "refresh-token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, auth.RefreshCookiePath, cookie.Path)
	assert.Equal(t, 7*24*3600, cookie.MaxAge)

	assert.Equal(t, tenantID, got.TenantID)
	assert.Equal(t, "192.0.2.1", got.IPAddress)
	assert.Equal(t, "register-7", got.UserAgent)
}

func TestLogin_InvalidRequest(t *testing.T) {
	called := false
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			called = true
			return authResult(), nil
		},
	}
	h := newHandler(mockAuth, nil, nil)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"malformed json", httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))},
		{"bad email", handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login",
			handlers.LoginRequest{TenantID: tenantID, Email: "nope", Password: "x"})},
		{"bad tenant", handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login",
			handlers.LoginRequest{TenantID: "tenant-1", Email: "cashier@example.com", Password: "x"})},
		{"missing password", handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login",
			handlers.LoginRequest{TenantID: tenantID, Email: "cashier@example.com"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Login(w, tt.req)
			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
	assert.False(t, called)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"locked", &models.AccountLockedError{Until: now.Add(10 * time.Minute)}, http.StatusLocked, "account_locked"},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			newHandler(mockAuth, nil, nil).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", loginBody()))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			assert.Nil(t, handlers.RefreshCookie(w))
		})
	}
}

func TestLogin_LockedSetsRetryAfter(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			return nil, &models.AccountLockedError{Until: now.Add(10 * time.Minute)}
		},
	}
	w := httptest.NewRecorder()
	newHandler(mockAuth, nil, nil).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", loginBody()))

	assert.Equal(t, "600", w.Header().Get("Retry-After"))
}

func TestLogin_FailureIsPadded(t *testing.T) {
	mockAuth := &handlers.MockAuthService{}
	h := handlers.NewAuthHandler(mockAuth, &handlers.MockPasswordResetService{}, &services.MockResetNotifier{},
		auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 60}),
		handlers.AuthHandlerConfig{RefreshTTL: time.Hour},
		clock.NewManual(now), slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	w := httptest.NewRecorder()
	h.Login(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", loginBody()))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRefresh(t *testing.T) {
	t.Run("cookie", func(t *testing.T) {
		var got string
		mockAuth := &handlers.MockAuthService{
			RefreshFunc: func(ctx context.Context, token string, meta services.ClientMeta) (*services.AuthResult, error) {
				got = token
				res := authResult()
				res.RefreshToken = "rotated"
				return res, nil
			},
		}
		req := handlers.WithRefreshCookie(httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), "refresh-token")
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Refresh(w, req)

		var resp handlers.TokenResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "refresh-token", got)
		assert.Equal(t, "rotated", handlers.RefreshCookie(w).Value)
	})

	t.Run("body fallback", func(t *testing.T) {
		var got string
		mockAuth := &handlers.MockAuthService{
			RefreshFunc: func(ctx context.Context, token string, meta services.ClientMeta) (*services.AuthResult, error) {
				got = token
				return authResult(), nil
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/refresh",
			handlers.RefreshTokenRequest{RefreshToken: "from-body"})
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Refresh(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "from-body", got)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		newHandler(&handlers.MockAuthService{}, nil, nil).Refresh(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("rejected token clears cookie", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			RefreshFunc: func(ctx context.Context, token string, meta services.ClientMeta) (*services.AuthResult, error) {
				return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenRevoked)
			},
		}
		req := handlers.WithRefreshCookie(httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), "replayed")
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Refresh(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
		assert.NotContains(t, w.Body.String(), "revoked")
		cookie := handlers.RefreshCookie(w)
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
		assert.Less(t, cookie.MaxAge, 0)
	})
}

func TestLogout(t *testing.T) {
	t.Run("revokes and clears", func(t *testing.T) {
		var got string
		mockAuth := &handlers.MockAuthService{
			LogoutFunc: func(ctx context.Context, token, ip string) error {
				got = token
				return nil
			},
		}
		req := handlers.WithRefreshCookie(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), "refresh-token")
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Logout(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "refresh-token", got)
		require.NotNil(t, handlers.RefreshCookie(w))
		assert.Less(t, handlers.RefreshCookie(w).MaxAge, 0)
	})

	t.Run("no token is still success", func(t *testing.T) {
		called := false
		mockAuth := &handlers.MockAuthService{
			LogoutFunc: func(ctx context.Context, token, ip string) error {
				called = true
				return nil
			},
		}
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Logout(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.False(t, called)
	})
}

func TestLogoutAll(t *testing.T) {
	t.Run("requires principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		newHandler(&handlers.MockAuthService{}, nil, nil).LogoutAll(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("revokes every session", func(t *testing.T) {
		var got string
		mockAuth := &handlers.MockAuthService{
			LogoutAllFunc: func(ctx context.Context, id, ip string) (int64, error) {
				got = id
				return 3, nil
			},
		}
		req := handlers.WithAuthContext(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil), userID, tenantID)
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).LogoutAll(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, userID, got)
	})
}

func TestRegister(t *testing.T) {
	body := handlers.RegisterRequest{
		TenantID: tenantID,
		Email:    "new.cashier@example.com",
		FullName: "  Ana Torres ",
		Password: "counter-top-1984!",
		RoleID:   roleID,
	}

	t.Run("created", func(t *testing.T) {
		var got services.RegisterInput
		mockAuth := &handlers.MockAuthService{
			RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error) {
				got = in
				return &services.UserResponse{ID: userID, TenantID: in.TenantID, Email: in.Email, FullName: in.FullName, RoleID: in.RoleID}, nil
			},
		}
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).Register(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", body))

		var resp services.UserResponse
		handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
		assert.Equal(t, userID, resp.ID)
		assert.Equal(t, "Ana Torres", got.FullName)
		assert.NotContains(t, w.Body.String(), "password")
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"duplicate", models.ErrConflict, http.StatusConflict, "conflict"},
		{"too short", &models.PasswordPolicyError{Violation: models.PolicyTooShort, Limit: 12}, http.StatusUnprocessableEntity, "password_policy"},
		{"breached", &models.CompromisedPasswordError{Count: 3}, http.StatusUnprocessableEntity, "password_compromised"},
		{"breach api down", models.ErrBreachCheckUnavailable, http.StatusServiceUnavailable, "breach_check_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			newHandler(mockAuth, nil, nil).Register(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", body))
			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}

	t.Run("invalid role id", func(t *testing.T) {
		bad := body
		bad.RoleID = "cashier"
		w := httptest.NewRecorder()
		newHandler(&handlers.MockAuthService{}, nil, nil).Register(w, handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", bad))

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		var resp pkghttp.ErrorResponse
		handlers.AssertJSONResponse(t, w, http.StatusBadRequest, &resp)
		assert.Contains(t, resp.Message, "RoleID")
	})
}

func TestChangePassword(t *testing.T) {
	body := handlers.ChangePasswordRequest{CurrentPassword: "counter-top-1984!", NewPassword: "fresh-drawer-count-42"}

	t.Run("changed", func(t *testing.T) {
		var gotUser, gotNew string
		mockAuth := &handlers.MockAuthService{
			ChangePasswordFunc: func(ctx context.Context, id, current, next string) error {
				gotUser, gotNew = id, next
				return nil
			},
		}
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/change-password", body), userID, tenantID)
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).ChangePassword(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, userID, gotUser)
		assert.Equal(t, "fresh-drawer-count-42", gotNew)
	})

	t.Run("wrong current password", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			ChangePasswordFunc: func(ctx context.Context, id, current, next string) error {
				return models.ErrUnauthorized
			},
		}
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/change-password", body), userID, tenantID)
		w := httptest.NewRecorder()
		newHandler(mockAuth, nil, nil).ChangePassword(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		newHandler(&handlers.MockAuthService{}, nil, nil).ChangePassword(w,
			handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/change-password", body))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})
}
