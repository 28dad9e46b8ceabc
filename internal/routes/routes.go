package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/handlers"
	"github.com/BradenHooton/vigil/internal/middleware"
	"github.com/BradenHooton/vigil/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	secondFactorHandler *handlers.SecondFactorHandler,
	riskHandler *handlers.RiskHandler,
	tokenManager *auth.TokenManager,
	metricsHandler http.Handler,
) {
	// Rate limiting config for unauthenticated auth endpoints
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/2fa/verify", authHandler.VerifySecondFactor)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/request", authHandler.RequestPasswordReset)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/complete", authHandler.CompletePasswordReset)

	router.Method(http.MethodGet, "/metrics", metricsHandler)

	// Protected routes - session required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(tokenManager))

		// Second factor lifecycle for the session principal
		r.Post("/auth/2fa/enroll", secondFactorHandler.Enroll)
		r.Post("/auth/2fa/confirm", secondFactorHandler.Confirm)
		r.Post("/auth/2fa/disable", secondFactorHandler.Disable)

		// Operator-only surface
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireKind(models.KindOperator))
			r.Post("/risk/assess", riskHandler.Assess)
			r.Get("/principals/{id}/events", riskHandler.ListEvents)
		})
	})
}
