package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceFP = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func newAccountHandler(prefs *handlers.MockPreferencesService, devices *handlers.MockTrustedDeviceService) *handlers.AccountHandler {
	return newAccountHandlerWithHistory(prefs, devices, &handlers.MockLoginHistory{})
}

func newAccountHandlerWithHistory(prefs *handlers.MockPreferencesService, devices *handlers.MockTrustedDeviceService, history *handlers.MockLoginHistory) *handlers.AccountHandler {
	logger, audit := handlers.TestLoggers()
	return handlers.NewAccountHandler(prefs, devices, history, nil, logger, audit)
}

func TestGetPreferences(t *testing.T) {
	prefs := &handlers.MockPreferencesService{
		GetFunc: func(_ context.Context, userID string) (*models.UserLoginPreferences, error) {
			return models.DefaultLoginPreferences(userID), nil
		},
	}
	h := newAccountHandler(prefs, &handlers.MockTrustedDeviceService{})

	t.Run("returns preferences", func(t *testing.T) {
		req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/me/login-preferences", nil), "user-1")
		w := httptest.NewRecorder()
		h.GetPreferences(w, req)

		var resp models.UserLoginPreferences
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "user-1", resp.UserID)
	})

	t.Run("requires session", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetPreferences(w, httptest.NewRequest(http.MethodGet, "/me/login-preferences", nil))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})
}

func TestUpdatePreferences(t *testing.T) {
	var got services.PreferencesUpdate
	prefs := &handlers.MockPreferencesService{
		UpdateFunc: func(_ context.Context, userID string, u services.PreferencesUpdate) (*models.UserLoginPreferences, error) {
			got = u
			if u.MFAMethod != nil && *u.MFAMethod == models.MFAMethodApp {
				return nil, models.ErrMFANotEnrolled
			}
			return models.DefaultLoginPreferences(userID), nil
		},
	}
	h := newAccountHandler(prefs, &handlers.MockTrustedDeviceService{})

	t.Run("partial update", func(t *testing.T) {
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPut, "/me/login-preferences",
			map[string]any{"mfa_enabled": true, "trusted_device_duration_days": 14}), "user-1")
		w := httptest.NewRecorder()
		h.UpdatePreferences(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, got.MFAEnabled)
		assert.True(t, *got.MFAEnabled)
		require.NotNil(t, got.TrustedDeviceDurationDays)
		assert.Equal(t, 14, *got.TrustedDeviceDurationDays)
		assert.Nil(t, got.MFAMethod)
		assert.Nil(t, got.NotifyOnNewLogin)
	})

	t.Run("unenrolled app method", func(t *testing.T) {
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPut, "/me/login-preferences",
			map[string]any{"mfa_method": "app"}), "user-1")
		w := httptest.NewRecorder()
		h.UpdatePreferences(w, req)
		handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
	})

	for name, body := range map[string]map[string]any{
		"unknown method": {"mfa_method": "carrier_pigeon"},
		"zero days":      {"trusted_device_duration_days": 0},
		"too many days":  {"trusted_device_duration_days": 366},
	} {
		t.Run(name, func(t *testing.T) {
			req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPut, "/me/login-preferences", body), "user-1")
			w := httptest.NewRecorder()
			h.UpdatePreferences(w, req)
			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestListTrustedDevices(t *testing.T) {
	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	devices := &handlers.MockTrustedDeviceService{
		ListFunc: func(_ context.Context, userID string) ([]*models.TrustedDevice, error) {
			return []*models.TrustedDevice{{
				UserID:            userID,
				DeviceFingerprint: deviceFP,
				DeviceName:        "Laptop",
				LastIPAddress:     "203.0.113.9",
				TrustedUntil:      until,
				CreatedAt:         until.AddDate(0, 0, -30),
				Active:            true,
			}}, nil
		},
	}
	h := newAccountHandler(&handlers.MockPreferencesService{}, devices)

	req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/me/trusted-devices", nil), "user-1")
	w := httptest.NewRecorder()
	h.ListTrustedDevices(w, req)

	var resp struct {
		Devices []handlers.TrustedDeviceResponse `json:"devices"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "Laptop", resp.Devices[0].DeviceName)
	assert.Equal(t, "2026-04-01T00:00:00Z", resp.Devices[0].TrustedUntil)
}

func TestListTrustedDevices_Empty(t *testing.T) {
	devices := &handlers.MockTrustedDeviceService{
		ListFunc: func(context.Context, string) ([]*models.TrustedDevice, error) { return nil, nil },
	}
	h := newAccountHandler(&handlers.MockPreferencesService{}, devices)

	req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/me/trusted-devices", nil), "user-1")
	w := httptest.NewRecorder()
	h.ListTrustedDevices(w, req)

	var raw map[string]json.RawMessage
	handlers.AssertJSONResponse(t, w, http.StatusOK, &raw)
	assert.JSONEq(t, `[]`, string(raw["devices"]))
}

func TestRevokeTrustedDevice(t *testing.T) {
	var revoked string
	devices := &handlers.MockTrustedDeviceService{
		RevokeFunc: func(_ context.Context, _ string, fingerprint string) error {
			if fingerprint != deviceFP {
				return models.ErrNotFound
			}
			revoked = fingerprint
			return nil
		},
	}
	h := newAccountHandler(&handlers.MockPreferencesService{}, devices)

	revoke := func(fp string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/me/trusted-devices/"+fp, nil)
		req = handlers.WithURLParam(handlers.WithAuthContext(req, "user-1"), "fingerprint", fp)
		w := httptest.NewRecorder()
		h.RevokeTrustedDevice(w, req)
		return w
	}

	t.Run("revokes case-insensitively", func(t *testing.T) {
		w := revoke(strings.ToUpper(deviceFP))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, deviceFP, revoked)
	})

	t.Run("unknown device", func(t *testing.T) {
		w := revoke(strings.Repeat("a", 64))
		handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})

	t.Run("malformed fingerprint", func(t *testing.T) {
		w := revoke("not-a-fingerprint")
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})
}

func TestListLoginHistory(t *testing.T) {
	reason := models.ReasonBadCredentials
	history := &handlers.MockLoginHistory{Attempts: []*models.LoginAttempt{{
		ID:            "attempt-1",
		IPAddress:     "203.0.113.9",
		Outcome:       models.OutcomeFailure,
		FailureReason: &reason,
		CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}}}
	h := newAccountHandlerWithHistory(&handlers.MockPreferencesService{}, &handlers.MockTrustedDeviceService{}, history)

	t.Run("lists attempts", func(t *testing.T) {
		req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/me/login-history?limit=5", nil), "user-1")
		w := httptest.NewRecorder()
		h.ListLoginHistory(w, req)

		var resp struct {
			Attempts []handlers.LoginHistoryEntry `json:"attempts"`
		}
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		require.Len(t, resp.Attempts, 1)
		assert.Equal(t, 5, history.LastLimit)
		assert.Equal(t, models.OutcomeFailure, resp.Attempts[0].Outcome)
		require.NotNil(t, resp.Attempts[0].FailureReason)
		assert.Equal(t, models.ReasonBadCredentials, *resp.Attempts[0].FailureReason)
		assert.NotContains(t, w.Body.String(), "attempt-1")
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/me/login-history?limit=-1", nil), "user-1")
		w := httptest.NewRecorder()
		h.ListLoginHistory(w, req)
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})
}
