package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/guildhq/sexton/internal/auth"
	"github.com/guildhq/sexton/internal/handlers"
	"github.com/guildhq/sexton/internal/middleware"
	"github.com/guildhq/sexton/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	userRepo auth.UserFetcher,
) {
	// Edge rate limiting for the credential endpoints. This is a
	// request-flood backstop; the per-identity lockout lives in the
	// login guard.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	router.Route("/api/auth", func(r chi.Router) {
		// Public routes
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/login", authHandler.Login)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/pin-login", authHandler.PinLogin)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/refresh", authHandler.Refresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager))
			r.Get("/me", authHandler.Me)
		})
	})

	// District-only administration
	router.Route("/api/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(auth.RequireRole(userRepo, models.RoleDistrict))
		r.Post("/unlock", adminHandler.Unlock)
	})
}
