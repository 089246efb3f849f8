package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/models"
	"github.com/quickstack/pos-auth/internal/services"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, meta services.ClientMeta) (*services.AuthResult, error)
	Logout(ctx context.Context, refreshToken, ipAddress string) error
	LogoutAll(ctx context.Context, userID, ipAddress string) (int64, error)
	Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Sessions(ctx context.Context, userID, currentRefresh string) ([]models.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID, ipAddress string) error
	RevokeOtherSessions(ctx context.Context, userID, currentRefresh, ipAddress string) (int64, error)
}

// PasswordResetServiceInterface defines the forgot-password flow
type PasswordResetServiceInterface interface {
	Initiate(ctx context.Context, email, tenantID, ipAddress string) (*services.ResetInitiation, error)
	Complete(ctx context.Context, token, newPassword string) error
}

// AuthHandlerConfig holds the HTTP-facing auth settings
type AuthHandlerConfig struct {
	Cookies    auth.CookieConfig
	RefreshTTL time.Duration
	IPConfig   *pkghttp.IPConfig
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	reset    PasswordResetServiceInterface
	notifier services.ResetNotifier
	timing   *auth.TimingDelay
	config   AuthHandlerConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	reset PasswordResetServiceInterface,
	notifier services.ResetNotifier,
	timing *auth.TimingDelay,
	config AuthHandlerConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		reset:    reset,
		notifier: notifier,
		timing:   timing,
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	TenantID string  `json:"tenant_id" validate:"required,uuid"`
	Email    string  `json:"email" validate:"required,email,max=254"`
	FullName string  `json:"full_name" validate:"required,min=1,max=200"`
	Password string  `json:"password" validate:"required,max=1024"`
	RoleID   string  `json:"role_id" validate:"required,uuid"`
	BranchID *string `json:"branch_id,omitempty" validate:"omitempty,uuid"`
}

// RefreshTokenRequest lets clients without cookie support send the token in the body
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=256"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// TokenResponse is returned by login and refresh. The refresh token travels
// in the HttpOnly cookie.
type TokenResponse struct {
	AccessToken string                 `json:"access_token"`
	TokenType   string                 `json:"token_type"`
	ExpiresIn   int64                  `json:"expires_in"`
	ExpiresAt   time.Time              `json:"expires_at"`
	User        *services.UserResponse `json:"user"`
}

func (h *AuthHandler) meta(r *http.Request) services.ClientMeta {
	return services.ClientMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.config.IPConfig),
		UserAgent: pkghttp.UserAgent(r),
	}
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, res *services.AuthResult) {
	auth.SetRefreshTokenCookie(w, res.RefreshToken, h.config.RefreshTTL, h.config.Cookies)
	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.AccessExpiresAt.Sub(h.clock.Now()).Seconds()),
		ExpiresAt:   res.AccessExpiresAt,
		User:        res.User,
	})
}

// refreshTokenFrom reads the refresh token from the cookie, falling back to the body
func refreshTokenFrom(r *http.Request) string {
	if token, err := auth.GetRefreshTokenCookie(r); err == nil && token != "" {
		return token
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || ValidateRequest(req) != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := h.meta(r)
	res, err := h.service.Login(r.Context(), services.LoginInput{
		TenantID:  req.TenantID,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		h.timing.PadFrom(r.Context(), start)
		h.writeError(w, err)
		return
	}

	h.writeTokens(w, res)
}

// Refresh rotates the refresh token and issues a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Invalid or expired session")
		return
	}

	res, err := h.service.Refresh(r.Context(), token, h.meta(r))
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			auth.ClearRefreshTokenCookie(w, h.config.Cookies)
		}
		h.writeError(w, err)
		return
	}

	h.writeTokens(w, res)
}

// Logout revokes the current refresh token and clears the cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r)
	if token != "" {
		if err := h.service.Logout(r.Context(), token, h.meta(r).IPAddress); err != nil {
			h.logger.Error("logout failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	auth.ClearRefreshTokenCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated user
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if _, err := h.service.LogoutAll(r.Context(), principal.UserID, h.meta(r).IPAddress); err != nil {
		h.logger.Error("logout-all failed", slog.String("user_id", principal.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearRefreshTokenCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Register creates a POS user
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		TenantID: req.TenantID,
		Email:    req.Email,
		FullName: strings.TrimSpace(req.FullName),
		Password: req.Password,
		RoleID:   req.RoleID,
		BranchID: req.BranchID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, user)
}

// ChangePassword changes the password of the authenticated user
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps service errors onto HTTP responses. Token and credential
// failures share generic messages.
func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	var policy *models.PasswordPolicyError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, locked.Until.Sub(h.clock.Now()))
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteUnauthorized(w, "Invalid or expired session")
	case errors.As(err, &policy):
		pkghttp.WriteUnprocessable(w, "password_policy", policy.Error())
	case errors.Is(err, models.ErrPasswordCompromised):
		pkghttp.WriteUnprocessable(w, "password_compromised",
			"This password has appeared in a data breach. Please choose a different password.")
	case errors.Is(err, models.ErrBreachCheckUnavailable):
		pkghttp.WriteServiceUnavailable(w, "breach_check_unavailable",
			"Password screening is temporarily unavailable. Please try again shortly.")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An account with this email already exists")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
