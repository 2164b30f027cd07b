package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/loginguard/internal/models"
)

// PreferencesRepository defines storage for per-user login preferences
type PreferencesRepository interface {
	GetOrCreate(ctx context.Context, defaults *models.UserLoginPreferences) (*models.UserLoginPreferences, error)
	Save(ctx context.Context, p *models.UserLoginPreferences) error
}

// TOTPSecretReader is the part of the TOTP store preferences need
type TOTPSecretReader interface {
	Get(ctx context.Context, userID string) (*models.TOTPSecret, error)
}

// PreferencesUpdate is a partial update; nil fields are left unchanged
type PreferencesUpdate struct {
	MFAEnabled                *bool
	MFAMethod                 *models.MFAMethod
	AllowTrustedDevices       *bool
	TrustedDeviceDurationDays *int
	RequireMFAOnNewDevice     *bool
	NotifyOnNewLogin          *bool
}

// PreferencesService manages UserLoginPreferences
type PreferencesService struct {
	repo    PreferencesRepository
	secrets TOTPSecretReader
	logger  *slog.Logger
}

// NewPreferencesService creates a new PreferencesService
func NewPreferencesService(repo PreferencesRepository, secrets TOTPSecretReader, logger *slog.Logger) *PreferencesService {
	return &PreferencesService{repo: repo, secrets: secrets, logger: logger}
}

// Get returns the user's preferences, creating the defaults on first read
func (s *PreferencesService) Get(ctx context.Context, userID string) (*models.UserLoginPreferences, error) {
	p, err := s.repo.GetOrCreate(ctx, models.DefaultLoginPreferences(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load login preferences: %w", err)
	}
	return p, nil
}

// Update applies a partial update after validating it
func (s *PreferencesService) Update(ctx context.Context, userID string, u PreferencesUpdate) (*models.UserLoginPreferences, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.MFAEnabled != nil {
		p.MFAEnabled = *u.MFAEnabled
	}
	if u.MFAMethod != nil {
		if !u.MFAMethod.Valid() {
			return nil, fmt.Errorf("unknown MFA method %q: %w", *u.MFAMethod, models.ErrBadRequest)
		}
		p.MFAMethod = *u.MFAMethod
	}
	if u.AllowTrustedDevices != nil {
		p.AllowTrustedDevices = *u.AllowTrustedDevices
	}
	if u.TrustedDeviceDurationDays != nil {
		d := *u.TrustedDeviceDurationDays
		if d < 1 || d > MaxTrustedDeviceDays {
			return nil, fmt.Errorf("trusted device duration must be between 1 and %d days: %w", MaxTrustedDeviceDays, models.ErrBadRequest)
		}
		p.TrustedDeviceDurationDays = d
	}
	if u.RequireMFAOnNewDevice != nil {
		p.RequireMFAOnNewDevice = *u.RequireMFAOnNewDevice
	}
	if u.NotifyOnNewLogin != nil {
		p.NotifyOnNewLogin = *u.NotifyOnNewLogin
	}

	if p.MFAEnabled && p.MFAMethod == models.MFAMethodApp {
		if err := s.requireConfirmedTOTP(ctx, userID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save login preferences: %w", err)
	}
	s.logger.Info("login preferences updated",
		slog.String("user_id", userID),
		slog.Bool("mfa_enabled", p.MFAEnabled),
		slog.String("mfa_method", string(p.MFAMethod)))
	return p, nil
}

// EnableAppMFA switches the user to authenticator-app MFA
func (s *PreferencesService) EnableAppMFA(ctx context.Context, userID string) (*models.UserLoginPreferences, error) {
	enabled := true
	method := models.MFAMethodApp
	return s.Update(ctx, userID, PreferencesUpdate{MFAEnabled: &enabled, MFAMethod: &method})
}

func (s *PreferencesService) requireConfirmedTOTP(ctx context.Context, userID string) error {
	if s.secrets == nil {
		return models.ErrUnsupportedMethod
	}
	secret, err := s.secrets.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrMFANotEnrolled
	}
	if err != nil {
		return fmt.Errorf("failed to load TOTP secret: %w", err)
	}
	if !secret.IsConfirmed() {
		return models.ErrMFANotEnrolled
	}
	return nil
}
