package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/stretchr/testify/assert"
)

type mfaFixture struct {
	totp    *handlers.MockTOTPService
	prefs   *handlers.MockPreferencesService
	users   *handlers.MockUserLookup
	enabled bool
}

func newMFAFixture() *mfaFixture {
	f := &mfaFixture{
		totp: &handlers.MockTOTPService{},
		users: &handlers.MockUserLookup{Users: map[string]*models.User{
			"user-1": {ID: "user-1", Email: "alice@example.com"},
		}},
	}
	f.prefs = &handlers.MockPreferencesService{
		EnableAppMFAFunc: func(_ context.Context, userID string) (*models.UserLoginPreferences, error) {
			f.enabled = true
			p := models.DefaultLoginPreferences(userID)
			p.MFAEnabled = true
			p.MFAMethod = models.MFAMethodApp
			return p, nil
		},
	}
	return f
}

func (f *mfaFixture) handler() *handlers.MFAHandler {
	logger, audit := handlers.TestLoggers()
	return handlers.NewMFAHandler(f.totp, f.prefs, f.users, nil, logger, audit)
}

func TestEnrollTOTP(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		beginErr  error
		status    int
		errorCode string
	}{
		{"starts enrollment", "user-1", nil, http.StatusOK, ""},
		{"already enrolled", "user-1", models.ErrConflict, http.StatusConflict, "conflict"},
		{"app mfa disabled", "user-1", models.ErrUnsupportedMethod, http.StatusNotFound, "not_found"},
		{"store unavailable", "user-1", models.ErrInternalServer, http.StatusServiceUnavailable, "try_again"},
		{"unknown user", "ghost", nil, http.StatusUnauthorized, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMFAFixture()
			f.totp.BeginFunc = func(_ context.Context, user *models.User) (*models.TOTPEnrollment, error) {
				if tt.beginErr != nil {
					return nil, tt.beginErr
				}
				return &models.TOTPEnrollment{Secret: "JBSWY3DPEHPK3PXP", OTPAuthURL: "otpauth://totp/x?secret=JBSWY3DPEHPK3PXP"}, nil
			}

			req := handlers.WithAuthContext(httptest.NewRequest(http.MethodPost, "/mfa/totp/enroll", nil), tt.userID)
			w := httptest.NewRecorder()
			f.handler().EnrollTOTP(w, req)

			if tt.errorCode != "" {
				handlers.AssertErrorResponse(t, w, tt.status, tt.errorCode)
				return
			}
			var resp models.TOTPEnrollment
			handlers.AssertJSONResponse(t, w, tt.status, &resp)
			assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
		})
	}
}

func TestConfirmTOTP(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		verdict   services.MFAVerdict
		status    int
		errorCode string
		enabled   bool
	}{
		{"accepted", "123456", services.MFAAccepted, http.StatusOK, "", true},
		{"rejected", "123456", services.MFARejected, http.StatusUnauthorized, "unauthorized", false},
		{"locked", "123456", services.MFALocked, http.StatusTooManyRequests, "rate_limit_exceeded", false},
		{"malformed code", "12ab56", services.MFAAccepted, http.StatusBadRequest, "bad_request", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMFAFixture()
			f.totp.ConfirmFunc = func(context.Context, string, string) (services.MFAVerdict, error) {
				return tt.verdict, nil
			}

			req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/mfa/totp/confirm",
				handlers.ConfirmTOTPRequest{Code: tt.code}), "user-1")
			w := httptest.NewRecorder()
			f.handler().ConfirmTOTP(w, req)

			if tt.errorCode != "" {
				handlers.AssertErrorResponse(t, w, tt.status, tt.errorCode)
			} else {
				var resp models.UserLoginPreferences
				handlers.AssertJSONResponse(t, w, tt.status, &resp)
				assert.Equal(t, models.MFAMethodApp, resp.MFAMethod)
			}
			assert.Equal(t, tt.enabled, f.enabled)
		})
	}
}
