package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
)

// FailureCounterRepository persists rolling failure counters for lockout decisions
type FailureCounterRepository struct {
	db *database.DB
}

// NewFailureCounterRepository creates a new FailureCounterRepository
func NewFailureCounterRepository(db *database.DB) *FailureCounterRepository {
	return &FailureCounterRepository{db: db}
}

// Increment folds one failure into the counter for key in a single upsert.
// A lock that has expired, or a counter idle for longer than policy.Window,
// starts over at 1. Reaching the threshold (including while already locked)
// sets locked_until to now + policy.LockoutDuration.
func (r *FailureCounterRepository) Increment(ctx context.Context, key models.CounterKey, policy models.CounterPolicy, now time.Time) (*models.FailedAttemptCounter, error) {
	var windowStart *time.Time
	if policy.Window > 0 {
		ws := now.Add(-policy.Window)
		windowStart = &ws
	}
	lockUntil := now.Add(policy.LockoutDuration)

	query := `
		INSERT INTO failure_counters AS fc
			(scope, subject, ip_address, device_fingerprint, attempt_count, first_attempt_at, last_attempt_at, locked_until)
		VALUES ($1, $2, $3, $4, 1, $5::timestamptz, $5::timestamptz,
			CASE WHEN 1 >= $6::int THEN $7::timestamptz ELSE NULL END)
		ON CONFLICT (scope, subject, ip_address, device_fingerprint) DO UPDATE SET
			attempt_count = CASE
				WHEN (fc.locked_until IS NOT NULL AND fc.locked_until <= $5::timestamptz)
					OR (fc.locked_until IS NULL AND $8::timestamptz IS NOT NULL AND fc.last_attempt_at < $8::timestamptz)
				THEN 1 ELSE fc.attempt_count + 1 END,
			first_attempt_at = CASE
				WHEN (fc.locked_until IS NOT NULL AND fc.locked_until <= $5::timestamptz)
					OR (fc.locked_until IS NULL AND $8::timestamptz IS NOT NULL AND fc.last_attempt_at < $8::timestamptz)
				THEN $5::timestamptz ELSE fc.first_attempt_at END,
			last_attempt_at = $5::timestamptz,
			locked_until = CASE
				WHEN (CASE
					WHEN (fc.locked_until IS NOT NULL AND fc.locked_until <= $5::timestamptz)
						OR (fc.locked_until IS NULL AND $8::timestamptz IS NOT NULL AND fc.last_attempt_at < $8::timestamptz)
					THEN 1 ELSE fc.attempt_count + 1 END) >= $6::int
				THEN $7::timestamptz ELSE NULL END
		RETURNING attempt_count, first_attempt_at, last_attempt_at, locked_until
	`

	c := &models.FailedAttemptCounter{Key: key}
	err := r.db.Pool.QueryRow(ctx, query,
		key.Scope, key.Subject, key.IPAddress, key.DeviceFingerprint,
		now, policy.Threshold, lockUntil, windowStart,
	).Scan(&c.AttemptCount, &c.FirstAttemptAt, &c.LastAttemptAt, &c.LockedUntil)
	if err != nil {
		return nil, fmt.Errorf("failed to increment failure counter: %w", database.MapPostgresError(err))
	}

	return c, nil
}

// Get returns the counter for key, or models.ErrNotFound
func (r *FailureCounterRepository) Get(ctx context.Context, key models.CounterKey) (*models.FailedAttemptCounter, error) {
	query := `
		SELECT attempt_count, first_attempt_at, last_attempt_at, locked_until
		FROM failure_counters
		WHERE scope = $1 AND subject = $2 AND ip_address = $3 AND device_fingerprint = $4
	`

	c := &models.FailedAttemptCounter{Key: key}
	err := r.db.Pool.QueryRow(ctx, query, key.Scope, key.Subject, key.IPAddress, key.DeviceFingerprint).
		Scan(&c.AttemptCount, &c.FirstAttemptAt, &c.LastAttemptAt, &c.LockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return c, nil
}

// Delete removes the counter for exactly this key
func (r *FailureCounterRepository) Delete(ctx context.Context, key models.CounterKey) error {
	query := `
		DELETE FROM failure_counters
		WHERE scope = $1 AND subject = $2 AND ip_address = $3 AND device_fingerprint = $4
	`

	if _, err := r.db.Pool.Exec(ctx, query, key.Scope, key.Subject, key.IPAddress, key.DeviceFingerprint); err != nil {
		return fmt.Errorf("failed to delete failure counter: %w", err)
	}
	return nil
}

// DeleteIdle removes unlocked or expired counters whose last failure is older than before
func (r *FailureCounterRepository) DeleteIdle(ctx context.Context, before, now time.Time) (int64, error) {
	query := `
		DELETE FROM failure_counters
		WHERE last_attempt_at < $1 AND (locked_until IS NULL OR locked_until <= $2)
	`

	tag, err := r.db.Pool.Exec(ctx, query, before, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle failure counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
