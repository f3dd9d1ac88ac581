package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Dependencies holds everything the router needs
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler
	Verifier      auth.SessionVerifier
	TokenPrefix   string
	PublicLimit   middleware.RateLimitConfig
	SessionLimit  middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.HealthHandler.Live)
	router.Get("/health/ready", deps.HealthHandler.Ready)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.PublicLimit))

		r.Post("/auth/login/initiate", deps.AuthHandler.InitiateLogin)
		r.Post("/auth/login/complete", deps.AuthHandler.CompleteLogin)
		r.Post("/auth/login/password", deps.AuthHandler.PasswordLogin)
		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/access-requests", deps.AuthHandler.RequestAccess)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Verifier, deps.TokenPrefix))
		r.Use(middleware.RateLimitBySession(deps.SessionLimit))

		r.Get("/auth/me", deps.AuthHandler.Me)
		r.Post("/auth/password", deps.AuthHandler.SetPassword)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/authorizations", deps.AdminHandler.ListAuthorizations)
			r.Post("/authorizations", deps.AdminHandler.GrantAuthorization)
			r.Post("/authorizations/{id}/approve", deps.AdminHandler.ApproveAuthorization)
			r.Post("/authorizations/{id}/reject", deps.AdminHandler.RejectAuthorization)
			r.Post("/invites", deps.AdminHandler.CreateInvite)
			r.Get("/users/{id}", deps.AdminHandler.GetUser)
			r.Put("/users/{id}/role", deps.AdminHandler.SetUserRole)
			r.Put("/users/{id}/active", deps.AdminHandler.SetUserActive)
		})
	})
}
