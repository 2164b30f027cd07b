package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &auth.SessionClaims{UserID: userID}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithURLParam attaches a chi route parameter to the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// TestLoggers returns discarding loggers for handler tests
func TestLoggers() (*slog.Logger, *pkglogger.AuditLogger) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return logger, pkglogger.NewAuditLogger(logger)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	AttemptLoginFunc func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	LastRequest      models.LoginRequest
}

func (m *MockLoginService) AttemptLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	m.LastRequest = req
	if m.AttemptLoginFunc != nil {
		return m.AttemptLoginFunc(ctx, req)
	}
	return nil, models.ErrInternalServer
}

// MockPreferencesService implements PreferencesServiceInterface and AppMFAEnabler for testing
type MockPreferencesService struct {
	GetFunc          func(ctx context.Context, userID string) (*models.UserLoginPreferences, error)
	UpdateFunc       func(ctx context.Context, userID string, u services.PreferencesUpdate) (*models.UserLoginPreferences, error)
	EnableAppMFAFunc func(ctx context.Context, userID string) (*models.UserLoginPreferences, error)
}

func (m *MockPreferencesService) Get(ctx context.Context, userID string) (*models.UserLoginPreferences, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockPreferencesService) Update(ctx context.Context, userID string, u services.PreferencesUpdate) (*models.UserLoginPreferences, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, userID, u)
	}
	return nil, models.ErrInternalServer
}

func (m *MockPreferencesService) EnableAppMFA(ctx context.Context, userID string) (*models.UserLoginPreferences, error) {
	if m.EnableAppMFAFunc != nil {
		return m.EnableAppMFAFunc(ctx, userID)
	}
	return nil, models.ErrInternalServer
}

// MockTrustedDeviceService implements TrustedDeviceServiceInterface for testing
type MockTrustedDeviceService struct {
	ListFunc   func(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	RevokeFunc func(ctx context.Context, userID, fingerprint string) error
}

func (m *MockTrustedDeviceService) List(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockTrustedDeviceService) Revoke(ctx context.Context, userID, fingerprint string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, userID, fingerprint)
	}
	return models.ErrInternalServer
}

// MockTOTPService implements TOTPServiceInterface for testing
type MockTOTPService struct {
	BeginFunc   func(ctx context.Context, user *models.User) (*models.TOTPEnrollment, error)
	ConfirmFunc func(ctx context.Context, userID, code string) (services.MFAVerdict, error)
}

func (m *MockTOTPService) BeginTOTPEnrollment(ctx context.Context, user *models.User) (*models.TOTPEnrollment, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockTOTPService) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) (services.MFAVerdict, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, userID, code)
	}
	return services.MFARejected, models.ErrInternalServer
}

// MockUserLookup implements UserLookup for testing
type MockUserLookup struct {
	Users map[string]*models.User
	Err   error
}

func (m *MockUserLookup) GetByID(_ context.Context, id string) (*models.User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if u, ok := m.Users[id]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

// MockLoginHistory implements LoginHistoryInterface for testing
type MockLoginHistory struct {
	Attempts  []*models.LoginAttempt
	Err       error
	LastLimit int
}

func (m *MockLoginHistory) History(_ context.Context, _ string, limit int) ([]*models.LoginAttempt, error) {
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Attempts, nil
}
