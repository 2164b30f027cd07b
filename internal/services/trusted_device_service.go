package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// MaxTrustedDeviceDays caps how long a device may stay trusted
const MaxTrustedDeviceDays = 365

// TrustedDeviceRepository defines the durable trusted device store
type TrustedDeviceRepository interface {
	IsTrusted(ctx context.Context, userID, fingerprint string, now time.Time) (bool, error)
	Upsert(ctx context.Context, device *models.TrustedDevice) error
	Revoke(ctx context.Context, userID, fingerprint string) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.TrustedDevice, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// TrustedDeviceRegistry tracks devices that skip MFA for a bounded window
type TrustedDeviceRegistry struct {
	repo   TrustedDeviceRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewTrustedDeviceRegistry creates a new TrustedDeviceRegistry
func NewTrustedDeviceRegistry(repo TrustedDeviceRepository, logger *slog.Logger) *TrustedDeviceRegistry {
	return &TrustedDeviceRegistry{repo: repo, logger: logger, now: time.Now}
}

// IsTrusted reports whether an active, unexpired row exists for the pair
func (r *TrustedDeviceRegistry) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	if userID == "" || fingerprint == "" {
		return false, nil
	}
	ok, err := r.repo.IsTrusted(ctx, userID, fingerprint, r.now())
	if err != nil {
		return false, fmt.Errorf("failed to check trusted device: %w", err)
	}
	return ok, nil
}

// TrustRequest describes a device being trusted after a successful login
type TrustRequest struct {
	UserID       string
	Fingerprint  string
	DeviceName   string
	IPAddress    string
	UserAgent    string
	Location     *models.Location
	DurationDays int
}

// Add trusts a device, extending the window if it is already known
func (r *TrustedDeviceRegistry) Add(ctx context.Context, req TrustRequest) (string, error) {
	if req.UserID == "" || req.Fingerprint == "" {
		return "", fmt.Errorf("user and fingerprint are required: %w", models.ErrBadRequest)
	}

	days := req.DurationDays
	if days <= 0 {
		days = models.DefaultTrustedDeviceDays
	}
	if days > MaxTrustedDeviceDays {
		days = MaxTrustedDeviceDays
	}

	name := strings.TrimSpace(req.DeviceName)
	if name == "" {
		name = "Unnamed device"
	}
	if len(name) > 100 {
		name = name[:100]
	}

	device := &models.TrustedDevice{
		UserID:            req.UserID,
		DeviceFingerprint: req.Fingerprint,
		DeviceName:        name,
		LastIPAddress:     req.IPAddress,
		LastUserAgent:     req.UserAgent,
		Location:          req.Location,
		TrustedUntil:      r.now().Add(time.Duration(days) * 24 * time.Hour),
		Active:            true,
	}
	if err := r.repo.Upsert(ctx, device); err != nil {
		return "", fmt.Errorf("failed to trust device: %w", err)
	}

	r.logger.Info("device trusted",
		slog.String("user_id", req.UserID),
		slog.String("device_id", device.ID),
		slog.Time("trusted_until", device.TrustedUntil))
	return device.ID, nil
}

// Revoke deactivates a device immediately
func (r *TrustedDeviceRegistry) Revoke(ctx context.Context, userID, fingerprint string) error {
	if err := r.repo.Revoke(ctx, userID, fingerprint); err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}
	r.logger.Info("trusted device revoked", slog.String("user_id", userID))
	return nil
}

// List returns the user's active, unexpired devices
func (r *TrustedDeviceRegistry) List(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	devices, err := r.repo.ListActive(ctx, userID, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted devices: %w", err)
	}
	return devices, nil
}

// SweepExpired deactivates devices whose window has passed
func (r *TrustedDeviceRegistry) SweepExpired(ctx context.Context) (int64, error) {
	n, err := r.repo.SweepExpired(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep trusted devices: %w", err)
	}
	return n, nil
}
