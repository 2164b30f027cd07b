package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TrustedDeviceRepository persists remembered devices
type TrustedDeviceRepository struct {
	db *database.DB
}

// NewTrustedDeviceRepository creates a new TrustedDeviceRepository
func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `id, user_id, device_fingerprint, device_name, last_ip_address, last_user_agent,
	location, trusted_until, active, created_at, updated_at`

func scanTrustedDevice(scanner rowScanner) (*models.TrustedDevice, error) {
	var d models.TrustedDevice
	var location []byte

	err := scanner.Scan(
		&d.ID, &d.UserID, &d.DeviceFingerprint, &d.DeviceName, &d.LastIPAddress, &d.LastUserAgent,
		&location, &d.TrustedUntil, &d.Active, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if d.Location, err = decodeLocation(location); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanTrustedDevices(rows pgx.Rows) ([]*models.TrustedDevice, error) {
	defer rows.Close()

	devices := make([]*models.TrustedDevice, 0)
	for rows.Next() {
		d, err := scanTrustedDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trusted device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return devices, nil
}

// IsTrusted reports whether an active, unexpired row exists for the pair
func (r *TrustedDeviceRepository) IsTrusted(ctx context.Context, userID, fingerprint string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM trusted_devices
			WHERE user_id = $1 AND device_fingerprint = $2 AND active AND trusted_until > $3
		)
	`

	var trusted bool
	if err := r.db.Pool.QueryRow(ctx, query, userID, fingerprint, now).Scan(&trusted); err != nil {
		return false, fmt.Errorf("failed to check trusted device: %w", err)
	}
	return trusted, nil
}

// Upsert trusts the device until device.TrustedUntil. An existing row for the
// same (user, fingerprint) is reactivated and its window replaced.
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) error {
	location, err := encodeLocation(device.Location)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trusted_devices
			(id, user_id, device_fingerprint, device_name, last_ip_address, last_user_agent, location, trusted_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (user_id, device_fingerprint) DO UPDATE SET
			device_name = EXCLUDED.device_name,
			last_ip_address = EXCLUDED.last_ip_address,
			last_user_agent = EXCLUDED.last_user_agent,
			location = EXCLUDED.location,
			trusted_until = EXCLUDED.trusted_until,
			active = TRUE,
			updated_at = NOW()
		RETURNING id, active, created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		uuid.New().String(),
		device.UserID,
		device.DeviceFingerprint,
		device.DeviceName,
		device.LastIPAddress,
		device.LastUserAgent,
		location,
		device.TrustedUntil,
	).Scan(&device.ID, &device.Active, &device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trusted device: %w", database.MapPostgresError(err))
	}

	return nil
}

// Revoke deactivates the device; returns models.ErrNotFound if no row matched
func (r *TrustedDeviceRepository) Revoke(ctx context.Context, userID, fingerprint string) error {
	query := `
		UPDATE trusted_devices SET active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND device_fingerprint = $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to revoke trusted device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListActive returns active, unexpired devices for the user, newest first
func (r *TrustedDeviceRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND active AND trusted_until > $2
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted devices: %w", err)
	}
	return scanTrustedDevices(rows)
}

// SweepExpired deactivates every active row whose window has passed
func (r *TrustedDeviceRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE trusted_devices SET active = FALSE, updated_at = NOW()
		WHERE active AND trusted_until <= $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep trusted devices: %w", err)
	}
	return tag.RowsAffected(), nil
}
