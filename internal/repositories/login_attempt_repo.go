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

// LoginAttemptRepository handles database operations for the attempt ledger
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const loginAttemptColumns = `id, email, user_id, ip_address, user_agent, device_fingerprint, location,
	outcome, failure_reason, mfa_required, session_ref, created_at, updated_at`

func scanLoginAttempt(scanner rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	var outcome string
	var reason *string
	var location []byte

	err := scanner.Scan(
		&a.ID, &a.Email, &a.UserID, &a.IPAddress, &a.UserAgent, &a.DeviceFingerprint, &location,
		&outcome, &reason, &a.MFARequired, &a.SessionRef, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.Outcome = models.AttemptOutcome(outcome)
	if reason != nil {
		a.FailureReason = models.FailureReason(*reason).Ptr()
	}
	if a.Location, err = decodeLocation(location); err != nil {
		return nil, err
	}

	return &a, nil
}

func scanLoginAttempts(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		a, err := scanLoginAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}

// Open inserts a pending attempt and fills in its id and timestamps
func (r *LoginAttemptRepository) Open(ctx context.Context, attempt *models.LoginAttempt) error {
	location, err := encodeLocation(attempt.Location)
	if err != nil {
		return err
	}

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	attempt.Outcome = models.OutcomePending

	query := `
		INSERT INTO login_attempts (id, email, ip_address, user_agent, device_fingerprint, location, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		attempt.ID,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		location,
	).Scan(&attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to open login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// Close moves a pending attempt to its terminal outcome. Only the first call
// wins; later calls return models.ErrAttemptClosed.
func (r *LoginAttemptRepository) Close(ctx context.Context, id string, c models.AttemptClose) error {
	var reason *string
	if c.FailureReason != nil {
		s := string(*c.FailureReason)
		reason = &s
	}

	query := `
		UPDATE login_attempts
		SET outcome = $2, failure_reason = $3, mfa_required = $4, session_ref = $5,
			user_id = COALESCE($6, user_id), updated_at = NOW()
		WHERE id = $1 AND outcome = 'pending'
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, string(c.Outcome), reason, c.MFARequired, c.SessionRef, c.UserID)
	if err != nil {
		return fmt.Errorf("failed to close login attempt: %w", database.MapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM login_attempts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check login attempt: %w", err)
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrAttemptClosed
	}

	return nil
}

// GetByID returns a single attempt
func (r *LoginAttemptRepository) GetByID(ctx context.Context, id string) (*models.LoginAttempt, error) {
	query := `SELECT ` + loginAttemptColumns + ` FROM login_attempts WHERE id = $1`
	return scanLoginAttempt(r.db.Pool.QueryRow(ctx, query, id))
}

// History returns the user's attempts, most recent first
func (r *LoginAttemptRepository) History(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login history: %w", err)
	}

	return scanLoginAttempts(rows)
}

// SuccessfulSince returns successful attempts for the user created at or after since, most recent first
func (r *LoginAttemptRepository) SuccessfulSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE user_id = $1 AND outcome = 'success' AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query successful logins: %w", err)
	}

	return scanLoginAttempts(rows)
}

// HasSuccessWithFingerprint reports whether the user completed a login from this device since the given time
func (r *LoginAttemptRepository) HasSuccessWithFingerprint(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM login_attempts
			WHERE user_id = $1 AND device_fingerprint = $2 AND outcome = 'success' AND created_at >= $3
		)
	`

	var seen bool
	if err := r.db.Pool.QueryRow(ctx, query, userID, fingerprint, since).Scan(&seen); err != nil {
		return false, fmt.Errorf("failed to check device history: %w", err)
	}
	return seen, nil
}
