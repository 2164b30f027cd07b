package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MFAChallengeRepository persists one-time verification codes
type MFAChallengeRepository struct {
	db *database.DB
}

// NewMFAChallengeRepository creates a new MFAChallengeRepository
func NewMFAChallengeRepository(db *database.DB) *MFAChallengeRepository {
	return &MFAChallengeRepository{db: db}
}

// Replace expires every live challenge for (user, purpose) and inserts ch in
// the same transaction, so at most one code is live at a time.
func (r *MFAChallengeRepository) Replace(ctx context.Context, ch *models.MFAChallenge, now time.Time) error {
	ch.ID = uuid.New().String()

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.LockKey(ctx, tx, "mfa_challenge:"+ch.UserID+":"+ch.Purpose); err != nil {
			return err
		}

		expire := `
			UPDATE mfa_challenges SET expires_at = $3
			WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		`
		if _, err := tx.Exec(ctx, expire, ch.UserID, ch.Purpose, now); err != nil {
			return fmt.Errorf("failed to expire live challenges: %w", err)
		}

		insert := `
			INSERT INTO mfa_challenges (id, user_id, code_hash, purpose, method, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.Exec(ctx, insert,
			ch.ID, ch.UserID, ch.CodeHash, ch.Purpose, string(ch.Method), ch.ExpiresAt, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert challenge: %w", database.MapPostgresError(err))
		}
		ch.CreatedAt = now
		return nil
	})
}

// Consume marks the matching live challenge used and reports whether one
// existed. The check and the write are one statement, so a code can only be
// consumed once even under concurrent verification.
func (r *MFAChallengeRepository) Consume(ctx context.Context, userID, purpose, codeHash string, now time.Time) (bool, error) {
	query := `
		UPDATE mfa_challenges SET used_at = $4
		WHERE user_id = $1 AND purpose = $2 AND code_hash = $3
			AND used_at IS NULL AND expires_at > $4
		RETURNING id
	`

	var id string
	err := r.db.Pool.QueryRow(ctx, query, userID, purpose, codeHash, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return true, nil
}

// DeleteStale removes challenges that expired or were used before the cutoff
func (r *MFAChallengeRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM mfa_challenges
		WHERE expires_at < $1 OR (used_at IS NOT NULL AND used_at < $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
