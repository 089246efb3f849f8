package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/models"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

const resetEmailTimeout = 30 * time.Second

// ForgotPasswordRequest represents the request body for initiating a reset
type ForgotPasswordRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
	Email    string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

// MessageResponse is a plain acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}

const forgotPasswordMessage = "If an account exists for this email, a reset link has been sent."

// ForgotPassword starts a password reset. The response is identical whether
// or not the account exists and is padded to the same latency floor as login.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	initiation, err := h.reset.Initiate(r.Context(), req.Email, req.TenantID, h.meta(r).IPAddress)
	if err != nil {
		h.logger.Error("password reset initiation failed",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
	} else if initiation.Matched {
		h.sendResetEmail(r.Context(), initiation.Email, initiation.Token, initiation.ExpiresAt)
	}

	h.timing.PadFrom(r.Context(), start)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: forgotPasswordMessage})
}

// sendResetEmail delivers the link off the request path so delivery latency
// does not reveal whether the account exists.
func (h *AuthHandler) sendResetEmail(ctx context.Context, email, token string, expiresAt time.Time) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetEmailTimeout)
	go func() {
		defer cancel()
		if err := h.notifier.SendPasswordResetEmail(sendCtx, email, token, expiresAt); err != nil {
			h.logger.Error("failed to send password reset email",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}

// ResetPassword completes a reset with a token from the email link
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.reset.Complete(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "This reset link is invalid or has expired")
			return
		}
		h.writeError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.config.Cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset. Please sign in again."})
}
