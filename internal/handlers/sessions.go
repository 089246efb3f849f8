package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/models"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
)

// SessionsResponse lists the live sessions of the caller
type SessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
}

// RevokedResponse reports how many sessions were revoked
type RevokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// sessionIDParam is validated as a UUID before it reaches the service
type sessionIDParam struct {
	ID string `validate:"required,uuid"`
}

// ListSessions returns the caller's active sessions. The one bound to the
// request's refresh cookie is flagged as current.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	current, _ := auth.GetRefreshTokenCookie(r)
	sessions, err := h.service.Sessions(r.Context(), principal.UserID, current)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// RevokeSession ends one session of the caller by id
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	param := sessionIDParam{ID: chi.URLParam(r, "id")}
	if err := ValidateRequest(param); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session id")
		return
	}

	if err := h.service.RevokeSession(r.Context(), principal.UserID, param.ID, h.meta(r).IPAddress); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeOtherSessions ends every session except the one making the request
func (h *AuthHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	current, err := auth.GetRefreshTokenCookie(r)
	if err != nil || current == "" {
		pkghttp.WriteBadRequest(w, "Current session cookie is required")
		return
	}

	revoked, err := h.service.RevokeOtherSessions(r.Context(), principal.UserID, current, h.meta(r).IPAddress)
	if err != nil {
		h.logger.Debug("revoke other sessions rejected", slog.String("user_id", principal.UserID))
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: revoked})
}
