package routes

import (
	"log/slog"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/handlers"
	"github.com/BradenHooton/lineage-auth/internal/middleware"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth    *handlers.AuthHandler
	Account *handlers.AccountHandler
	MFA     *handlers.MFAHandler
	Admin   *handlers.AdminHandler
	Health  *handlers.HealthHandler
}

// Config carries what the route tree needs besides the handlers
type Config struct {
	Decoder       auth.AccessTokenDecoder
	Activity      auth.ActivityRecorder
	IPConfig      *pkghttp.IPConfig
	AuthRateLimit int // requests per minute per IP on public auth endpoints
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, cfg Config) {
	rateLimitConfig := middleware.DefaultAuthRateLimit()
	if cfg.AuthRateLimit > 0 {
		rateLimitConfig.Requests = cfg.AuthRateLimit
	}
	rateLimitConfig.IPConfig = cfg.IPConfig

	router.Get("/health", h.Health.Health)

	// Public routes - no authentication required
	router.Route("/auth", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/register", h.Auth.Register)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/login", h.Auth.Login)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/refresh", h.Auth.Refresh)
		r.Post("/logout", h.Auth.Logout)

		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/password/reset", h.Account.RequestPasswordReset)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/password/reset/confirm", h.Account.ConfirmPasswordReset)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/email/verify", h.Account.VerifyEmail)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/email/verify/resend", h.Account.ResendVerification)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(cfg.Decoder, cfg.Activity, cfg.IPConfig, cfg.Logger))

			r.Get("/me", h.Auth.Me)
			r.Post("/logout-all", h.Auth.LogoutAll)
			r.Get("/sessions", h.Auth.ListSessions)
			r.Delete("/sessions/{id}", h.Auth.RevokeSession)

			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/password/change", h.Account.ChangePassword)
			r.Post("/email/verify/request", h.Account.RequestEmailVerification)

			r.Post("/mfa/enroll", h.MFA.BeginEnrollment)
			r.Post("/mfa/confirm", h.MFA.ConfirmEnrollment)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/mfa/disable", h.MFA.Disable)
			r.Get("/mfa/status", h.MFA.Status)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/mfa/backup-codes", h.MFA.RegenerateBackupCodes)
		})
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(cfg.Decoder, cfg.Activity, cfg.IPConfig, cfg.Logger))
		r.Use(auth.RequireRole("admin"))

		r.Get("/users/{id}", h.Admin.GetUser)
		r.Delete("/users/{id}", h.Admin.DeleteUser)
		r.Post("/users/{id}/unlock", h.Admin.UnlockUser)
		r.Put("/users/{id}/active", h.Admin.SetActive)
		r.Get("/users/{id}/sessions", h.Admin.ListUserSessions)
		r.Get("/users/{id}/audit-logs", h.Admin.ListUserAuditLogs)
	})
}
