package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
)

// TOTPSecretRepository persists authenticator-app secrets
type TOTPSecretRepository struct {
	db *database.DB
}

// NewTOTPSecretRepository creates a new TOTPSecretRepository
func NewTOTPSecretRepository(db *database.DB) *TOTPSecretRepository {
	return &TOTPSecretRepository{db: db}
}

// Save stores a fresh, unconfirmed secret, replacing any previous enrollment
func (r *TOTPSecretRepository) Save(ctx context.Context, s *models.TOTPSecret) error {
	query := `
		INSERT INTO mfa_totp_secrets (user_id, secret_encrypted, secret_nonce, last_used_step, confirmed_at)
		VALUES ($1, $2, $3, 0, NULL)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce = EXCLUDED.secret_nonce,
			last_used_step = 0,
			confirmed_at = NULL,
			created_at = NOW()
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query, s.UserID, s.SecretEncrypted, s.SecretNonce).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save totp secret: %w", database.MapPostgresError(err))
	}
	s.LastUsedStep = 0
	s.ConfirmedAt = nil
	return nil
}

// Get returns the user's secret or models.ErrNotFound
func (r *TOTPSecretRepository) Get(ctx context.Context, userID string) (*models.TOTPSecret, error) {
	query := `
		SELECT user_id, secret_encrypted, secret_nonce, last_used_step, confirmed_at, created_at
		FROM mfa_totp_secrets WHERE user_id = $1
	`

	var s models.TOTPSecret
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.SecretEncrypted, &s.SecretNonce, &s.LastUsedStep, &s.ConfirmedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// AcceptStep records step as used if it is newer than the last accepted one.
// It returns false for a replayed or older step. When confirm is set the
// secret is also marked confirmed.
func (r *TOTPSecretRepository) AcceptStep(ctx context.Context, userID string, step int64, confirm bool, now time.Time) (bool, error) {
	query := `
		UPDATE mfa_totp_secrets
		SET last_used_step = $2,
			confirmed_at = CASE WHEN $3::boolean THEN COALESCE(confirmed_at, $4) ELSE confirmed_at END
		WHERE user_id = $1 AND last_used_step < $2
			AND ($3::boolean OR confirmed_at IS NOT NULL)
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, step, confirm, now)
	if err != nil {
		return false, fmt.Errorf("failed to accept totp step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
