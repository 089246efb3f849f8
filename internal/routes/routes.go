package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/handlers"
	"github.com/quickstack/pos-auth/internal/middleware"
)

// Limits groups the per-route rate limits
type Limits struct {
	Public        middleware.RateLimitConfig
	Authenticated middleware.RateLimitConfig
}

// RegisterRoutes mounts the auth API under /api/v1/auth
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	tokens auth.AccessTokenValidator,
	limits Limits,
	logger *slog.Logger,
) {
	router.Route("/api/v1/auth", func(r chi.Router) {
		// Public routes, limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(limits.Public))

			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.Post("/register", authHandler.Register)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// Bearer-authenticated routes, limited per user
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokens, logger))
			r.Use(middleware.RateLimitByUserID(limits.Authenticated))

			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
			r.Post("/sessions/revoke-others", authHandler.RevokeOtherSessions)
		})
	})
}
