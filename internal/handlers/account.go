package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// PreferencesServiceInterface defines preference operations used by the handler
type PreferencesServiceInterface interface {
	Get(ctx context.Context, userID string) (*models.UserLoginPreferences, error)
	Update(ctx context.Context, userID string, u services.PreferencesUpdate) (*models.UserLoginPreferences, error)
}

// TrustedDeviceServiceInterface defines trusted device operations used by the handler
type TrustedDeviceServiceInterface interface {
	List(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	Revoke(ctx context.Context, userID, fingerprint string) error
}

// LoginHistoryInterface reads the signed-in user's recent attempts
type LoginHistoryInterface interface {
	History(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// AccountHandler serves the signed-in user's login settings
type AccountHandler struct {
	preferences PreferencesServiceInterface
	devices     TrustedDeviceServiceInterface
	history     LoginHistoryInterface
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(preferences PreferencesServiceInterface, devices TrustedDeviceServiceInterface, history LoginHistoryInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountHandler {
	return &AccountHandler{
		preferences: preferences,
		devices:     devices,
		history:     history,
		ipConfig:    ipConfig,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UpdatePreferencesRequest is a partial update; omitted fields are unchanged
type UpdatePreferencesRequest struct {
	MFAEnabled                *bool   `json:"mfa_enabled"`
	MFAMethod                 *string `json:"mfa_method" validate:"omitempty,oneof=email sms app"`
	AllowTrustedDevices       *bool   `json:"allow_trusted_devices"`
	TrustedDeviceDurationDays *int    `json:"trusted_device_duration_days" validate:"omitempty,gte=1,lte=365"`
	RequireMFAOnNewDevice     *bool   `json:"require_mfa_on_new_device"`
	NotifyOnNewLogin          *bool   `json:"notify_on_new_login"`
}

// TrustedDeviceResponse is the public view of a trusted device
type TrustedDeviceResponse struct {
	DeviceFingerprint string           `json:"device_fingerprint"`
	DeviceName        string           `json:"device_name"`
	LastIPAddress     string           `json:"last_ip_address"`
	Location          *models.Location `json:"location,omitempty"`
	TrustedUntil      string           `json:"trusted_until"`
	CreatedAt         string           `json:"created_at"`
}

// LoginHistoryEntry is the public view of one login attempt
type LoginHistoryEntry struct {
	IPAddress         string                `json:"ip_address"`
	UserAgent         string                `json:"user_agent"`
	DeviceFingerprint string                `json:"device_fingerprint"`
	Location          *models.Location      `json:"location,omitempty"`
	Outcome           models.AttemptOutcome `json:"outcome"`
	FailureReason     *models.FailureReason `json:"failure_reason,omitempty"`
	MFARequired       bool                  `json:"mfa_required"`
	CreatedAt         string                `json:"created_at"`
}

// GetPreferences handles GET /me/login-preferences
func (h *AccountHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	prefs, err := h.preferences.Get(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to load login preferences", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences handles PUT /me/login-preferences
func (h *AccountHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return
	}

	update := services.PreferencesUpdate{
		MFAEnabled:                req.MFAEnabled,
		AllowTrustedDevices:       req.AllowTrustedDevices,
		TrustedDeviceDurationDays: req.TrustedDeviceDurationDays,
		RequireMFAOnNewDevice:     req.RequireMFAOnNewDevice,
		NotifyOnNewLogin:          req.NotifyOnNewLogin,
	}
	if req.MFAMethod != nil {
		method := models.MFAMethod(*req.MFAMethod)
		update.MFAMethod = &method
	}

	prefs, err := h.preferences.Update(r.Context(), claims.UserID, update)
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, models.ErrMFANotEnrolled):
		pkghttp.WriteConflict(w, "Enroll an authenticator app before selecting it")
		return
	case errors.Is(err, models.ErrUnsupportedMethod):
		pkghttp.WriteBadRequest(w, "Authenticator app MFA is not available")
		return
	case err != nil:
		h.logger.Error("failed to update login preferences", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "login_preferences_updated", claims.UserID,
		pkghttp.ExtractClientIP(r, h.ipConfig), nil)
	pkghttp.WriteJSON(w, http.StatusOK, prefs)
}

// ListTrustedDevices handles GET /me/trusted-devices
func (h *AccountHandler) ListTrustedDevices(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	devices, err := h.devices.List(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list trusted devices", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	resp := make([]TrustedDeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, TrustedDeviceResponse{
			DeviceFingerprint: d.DeviceFingerprint,
			DeviceName:        d.DeviceName,
			LastIPAddress:     d.LastIPAddress,
			Location:          d.Location,
			TrustedUntil:      d.TrustedUntil.UTC().Format(time.RFC3339),
			CreatedAt:         d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"devices": resp})
}

// RevokeTrustedDevice handles DELETE /me/trusted-devices/{fingerprint}
func (h *AccountHandler) RevokeTrustedDevice(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	fingerprint := strings.ToLower(chi.URLParam(r, "fingerprint"))
	if err := validate.Var(fingerprint, "required,len=64,hexadecimal"); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid device fingerprint")
		return
	}

	err := h.devices.Revoke(r.Context(), claims.UserID, fingerprint)
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Trusted device not found")
		return
	case err != nil:
		h.logger.Error("failed to revoke trusted device", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "trusted_device_revoked", claims.UserID,
		pkghttp.ExtractClientIP(r, h.ipConfig), nil)
	w.WriteHeader(http.StatusNoContent)
}

// ListLoginHistory handles GET /me/login-history?limit=N
func (h *AccountHandler) ListLoginHistory(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := h.history.History(r.Context(), claims.UserID, limit)
	if err != nil {
		h.logger.Error("failed to load login history", slog.Any("error", err))
		pkghttp.WriteTryAgain(w)
		return
	}

	resp := make([]LoginHistoryEntry, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, LoginHistoryEntry{
			IPAddress:         a.IPAddress,
			UserAgent:         a.UserAgent,
			DeviceFingerprint: a.DeviceFingerprint,
			Location:          a.Location,
			Outcome:           a.Outcome,
			FailureReason:     a.FailureReason,
			MFARequired:       a.MFARequired,
			CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"attempts": resp})
}
