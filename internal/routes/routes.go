package routes

import (
	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/middleware"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers served by the API
type Handlers struct {
	Auth    *handlers.AuthHandler
	Account *handlers.AccountHandler
	MFA     *handlers.MFAHandler
}

// Limits holds the per-minute request ceilings
type Limits struct {
	Login         middleware.RateLimitConfig
	Authenticated middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	sessions auth.SessionValidator,
	ipConfig *pkghttp.IPConfig,
	limits Limits,
) {
	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(limits.Login, ipConfig)).Post("/auth/login", h.Auth.Login)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(sessions))
		r.Use(middleware.RateLimitByUser(limits.Authenticated, ipConfig))

		r.Get("/me/login-preferences", h.Account.GetPreferences)
		r.Put("/me/login-preferences", h.Account.UpdatePreferences)
		r.Get("/me/login-history", h.Account.ListLoginHistory)
		r.Get("/me/trusted-devices", h.Account.ListTrustedDevices)
		r.Delete("/me/trusted-devices/{fingerprint}", h.Account.RevokeTrustedDevice)

		r.Post("/mfa/totp/enroll", h.MFA.EnrollTOTP)
		r.Post("/mfa/totp/confirm", h.MFA.ConfirmTOTP)
	})
}
