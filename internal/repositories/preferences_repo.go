package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
)

// PreferencesRepository persists per-user login preferences
type PreferencesRepository struct {
	db *database.DB
}

// NewPreferencesRepository creates a new PreferencesRepository
func NewPreferencesRepository(db *database.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

const preferencesColumns = `user_id, mfa_enabled, mfa_method, allow_trusted_devices, trusted_device_duration_days,
	require_mfa_on_new_device, notify_on_new_login, created_at, updated_at`

func scanPreferences(scanner rowScanner) (*models.UserLoginPreferences, error) {
	var p models.UserLoginPreferences
	var method string

	err := scanner.Scan(
		&p.UserID, &p.MFAEnabled, &method, &p.AllowTrustedDevices, &p.TrustedDeviceDurationDays,
		&p.RequireMFAOnNewDevice, &p.NotifyOnNewLogin, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	p.MFAMethod = models.MFAMethod(method)
	return &p, nil
}

// GetOrCreate returns the user's preferences, inserting defaults on first access
func (r *PreferencesRepository) GetOrCreate(ctx context.Context, defaults *models.UserLoginPreferences) (*models.UserLoginPreferences, error) {
	insert := `
		INSERT INTO user_login_preferences
			(user_id, mfa_enabled, mfa_method, allow_trusted_devices, trusted_device_duration_days,
			 require_mfa_on_new_device, notify_on_new_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, insert,
		defaults.UserID, defaults.MFAEnabled, string(defaults.MFAMethod), defaults.AllowTrustedDevices,
		defaults.TrustedDeviceDurationDays, defaults.RequireMFAOnNewDevice, defaults.NotifyOnNewLogin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create default preferences: %w", database.MapPostgresError(err))
	}

	query := `SELECT ` + preferencesColumns + ` FROM user_login_preferences WHERE user_id = $1`
	return scanPreferences(r.db.Pool.QueryRow(ctx, query, defaults.UserID))
}

// Save writes every preference field for the user
func (r *PreferencesRepository) Save(ctx context.Context, p *models.UserLoginPreferences) error {
	query := `
		INSERT INTO user_login_preferences
			(user_id, mfa_enabled, mfa_method, allow_trusted_devices, trusted_device_duration_days,
			 require_mfa_on_new_device, notify_on_new_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			mfa_enabled = EXCLUDED.mfa_enabled,
			mfa_method = EXCLUDED.mfa_method,
			allow_trusted_devices = EXCLUDED.allow_trusted_devices,
			trusted_device_duration_days = EXCLUDED.trusted_device_duration_days,
			require_mfa_on_new_device = EXCLUDED.require_mfa_on_new_device,
			notify_on_new_login = EXCLUDED.notify_on_new_login,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		p.UserID, p.MFAEnabled, string(p.MFAMethod), p.AllowTrustedDevices,
		p.TrustedDeviceDurationDays, p.RequireMFAOnNewDevice, p.NotifyOnNewLogin,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", database.MapPostgresError(err))
	}
	return nil
}
