package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// UserLookup loads the signed-in account
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TOTPServiceInterface defines authenticator-app enrollment
type TOTPServiceInterface interface {
	BeginTOTPEnrollment(ctx context.Context, user *models.User) (*models.TOTPEnrollment, error)
	ConfirmTOTPEnrollment(ctx context.Context, userID, code string) (services.MFAVerdict, error)
}

// AppMFAEnabler switches a user to authenticator-app MFA
type AppMFAEnabler interface {
	EnableAppMFA(ctx context.Context, userID string) (*models.UserLoginPreferences, error)
}

// MFAHandler handles authenticator-app enrollment
type MFAHandler struct {
	mfa         TOTPServiceInterface
	preferences AppMFAEnabler
	users       UserLookup
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(mfa TOTPServiceInterface, preferences AppMFAEnabler, users UserLookup, ipConfig *pkghttp.IPConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *MFAHandler {
	return &MFAHandler{
		mfa:         mfa,
		preferences: preferences,
		users:       users,
		ipConfig:    ipConfig,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// ConfirmTOTPRequest carries the first code shown by the authenticator app
type ConfirmTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// EnrollTOTP handles POST /mfa/totp/enroll
func (h *MFAHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	enrollment, err := h.mfa.BeginTOTPEnrollment(r.Context(), user)
	switch {
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An authenticator app is already enrolled")
		return
	case errors.Is(err, models.ErrUnsupportedMethod):
		pkghttp.WriteNotFound(w, "Authenticator app MFA is not available")
		return
	case err != nil:
		h.logger.Error("failed to begin totp enrollment", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "totp_enrollment_started", user.ID,
		pkghttp.ExtractClientIP(r, h.ipConfig), nil)
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ConfirmTOTP handles POST /mfa/totp/confirm
func (h *MFAHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ConfirmTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	verdict, err := h.mfa.ConfirmTOTPEnrollment(r.Context(), claims.UserID, req.Code)
	switch {
	case errors.Is(err, models.ErrUnsupportedMethod):
		pkghttp.WriteNotFound(w, "Authenticator app MFA is not available")
		return
	case err != nil:
		h.logger.Error("failed to confirm totp enrollment", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	switch verdict {
	case services.MFALocked:
		pkghttp.WriteTooManyRequests(w, "Too many invalid codes, try again later")
		return
	case services.MFARejected:
		pkghttp.WriteUnauthorized(w, "Invalid verification code")
		return
	}

	prefs, err := h.preferences.EnableAppMFA(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to enable app mfa", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "totp_enrollment_confirmed", claims.UserID,
		pkghttp.ExtractClientIP(r, h.ipConfig), nil)
	pkghttp.WriteJSON(w, http.StatusOK, prefs)
}
