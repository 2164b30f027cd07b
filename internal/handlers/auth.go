package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// maxLoginBodyBytes bounds the login request body
const maxLoginBodyBytes = 16 << 10

// LoginServiceInterface defines the login orchestrator used by the handler
type LoginServiceInterface interface {
	AttemptLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  LoginServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// EnvironmentRequest carries client-reported attributes used for device fingerprinting
type EnvironmentRequest struct {
	ScreenResolution string `json:"screen_resolution" validate:"max=32"`
	Timezone         string `json:"timezone" validate:"max=64"`
	Language         string `json:"language" validate:"max=35"`
	Platform         string `json:"platform" validate:"max=64"`
	CookiesEnabled   *bool  `json:"cookies_enabled"`
	Canvas           string `json:"canvas" validate:"max=128"`
	WebGL            string `json:"webgl" validate:"max=256"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email          string             `json:"email" validate:"required,email,max=254"`
	Password       string             `json:"password" validate:"required,max=1024"`
	MFACode        string             `json:"mfa_code" validate:"omitempty,max=16"`
	RememberDevice bool               `json:"remember_device"`
	DeviceName     string             `json:"device_name" validate:"max=100"`
	Environment    EnvironmentRequest `json:"environment"`
}

// Response DTOs

// AuthenticatedResponse is returned with 200 once a session is issued
type AuthenticatedResponse struct {
	Status      string              `json:"status"`
	AccessToken string              `json:"access_token"`
	ExpiresAt   time.Time           `json:"expires_at"`
	User        *models.UserSummary `json:"user"`
	NewDevice   bool                `json:"new_device"`
	DeviceID    string              `json:"device_id,omitempty"`
	Suspicious  bool                `json:"suspicious"`
}

// MFARequiredResponse is returned with 202 when a second factor is needed
type MFARequiredResponse struct {
	Status    string           `json:"status"`
	MFAMethod models.MFAMethod `json:"mfa_method"`
	Message   string           `json:"message"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} AuthenticatedResponse
// @Success 202 {object} MFARequiredResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.MFACode = strings.TrimSpace(req.MFACode)
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := h.service.AttemptLogin(r.Context(), models.LoginRequest{
		Email:          req.Email,
		Password:       req.Password,
		MFACode:        req.MFACode,
		RememberDevice: req.RememberDevice,
		DeviceName:     req.DeviceName,
		Environment: models.ClientEnvironment{
			ScreenResolution: req.Environment.ScreenResolution,
			Timezone:         req.Environment.Timezone,
			Language:         req.Environment.Language,
			Platform:         req.Environment.Platform,
			CookiesEnabled:   req.Environment.CookiesEnabled,
			Canvas:           req.Environment.Canvas,
			WebGL:            req.Environment.WebGL,
		},
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.UserAgent(r),
	})
	if err != nil {
		h.logger.Error("login failed with infrastructure error", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	writeLoginResult(w, result)
}

// writeLoginResult maps each outcome to its status code. Messages before the
// credential check is passed never reveal whether the email exists.
func writeLoginResult(w http.ResponseWriter, result *models.LoginResult) {
	switch result.Outcome {
	case models.LoginAuthenticated:
		resp := AuthenticatedResponse{
			Status:    string(result.Outcome),
			User:      result.User,
			NewDevice: result.NewDevice,
			DeviceID:  result.DeviceID,
		}
		if result.Session != nil {
			resp.AccessToken = result.Session.Token
			resp.ExpiresAt = result.Session.ExpiresAt
		}
		if result.Suspicion != nil {
			resp.Suspicious = result.Suspicion.Suspicious
		}
		pkghttp.WriteJSON(w, http.StatusOK, resp)

	case models.LoginMFARequired:
		pkghttp.WriteJSON(w, http.StatusAccepted, MFARequiredResponse{
			Status:    string(result.Outcome),
			MFAMethod: result.MFAMethod,
			Message:   mfaPrompt(result.MFAMethod),
		})

	case models.LoginLocked:
		pkghttp.WriteLocked(w, result.RetryAfter, "Too many failed attempts, try again later")

	case models.LoginInvalidCredentials:
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")

	case models.LoginEmailUnverified:
		pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified", "Verify your email address before signing in")

	case models.LoginMFAInvalid:
		if result.FailureReason != nil && *result.FailureReason == models.ReasonMFARateLimited {
			pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_rate_limited", "Too many invalid codes, request a new code later")
			return
		}
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_invalid", "Invalid or expired verification code")

	default:
		pkghttp.WriteTryAgain(w)
	}
}

func mfaPrompt(method models.MFAMethod) string {
	switch method {
	case models.MFAMethodApp:
		return "Enter the code from your authenticator app"
	case models.MFAMethodSMS:
		return "A verification code was sent to your phone"
	default:
		return "A verification code was sent to your email"
	}
}
