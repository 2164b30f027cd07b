package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// LoginAttemptRepository defines the durable attempt ledger
type LoginAttemptRepository interface {
	Open(ctx context.Context, attempt *models.LoginAttempt) error
	Close(ctx context.Context, id string, c models.AttemptClose) error
	History(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
	SuccessfulSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.LoginAttempt, error)
	HasSuccessWithFingerprint(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error)
}

// AttemptLedger records every login attempt from open to terminal state
type AttemptLedger struct {
	repo   LoginAttemptRepository
	logger *slog.Logger
}

// NewAttemptLedger creates a new AttemptLedger
func NewAttemptLedger(repo LoginAttemptRepository, logger *slog.Logger) *AttemptLedger {
	return &AttemptLedger{repo: repo, logger: logger}
}

// Open creates a pending attempt. It does not look up the user, so it
// behaves the same for known and unknown emails.
func (l *AttemptLedger) Open(ctx context.Context, email, userAgent, ipAddress, fingerprint string, location *models.Location) (string, error) {
	attempt := &models.LoginAttempt{
		Email:             strings.ToLower(strings.TrimSpace(email)),
		IPAddress:         ipAddress,
		UserAgent:         userAgent,
		DeviceFingerprint: fingerprint,
		Location:          location,
		Outcome:           models.OutcomePending,
	}
	if err := l.repo.Open(ctx, attempt); err != nil {
		return "", fmt.Errorf("failed to open login attempt: %w", err)
	}
	return attempt.ID, nil
}

// Close moves an attempt to its terminal state. Closing an already closed
// attempt is a no-op.
func (l *AttemptLedger) Close(ctx context.Context, attemptID string, c models.AttemptClose) error {
	if c.Outcome != models.OutcomeSuccess && c.Outcome != models.OutcomeFailure {
		return fmt.Errorf("invalid terminal outcome %q: %w", c.Outcome, models.ErrBadRequest)
	}
	if c.FailureReason != nil && !c.FailureReason.Valid() {
		return fmt.Errorf("invalid failure reason %q: %w", *c.FailureReason, models.ErrBadRequest)
	}
	if c.Outcome == models.OutcomeSuccess {
		c.FailureReason = nil
	}

	err := l.repo.Close(ctx, attemptID, c)
	if errors.Is(err, models.ErrAttemptClosed) {
		l.logger.Warn("login attempt already closed", slog.String("attempt_id", attemptID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to close login attempt: %w", err)
	}
	return nil
}

// History returns a user's attempts, most recent first
func (l *AttemptLedger) History(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	attempts, err := l.repo.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load login history: %w", err)
	}
	return attempts, nil
}

// SuccessfulSince returns successful attempts after since, most recent first
func (l *AttemptLedger) SuccessfulSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.LoginAttempt, error) {
	attempts, err := l.repo.SuccessfulSince(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load successful logins: %w", err)
	}
	return attempts, nil
}

// SeenDevice reports whether the user completed a login with this fingerprint after since
func (l *AttemptLedger) SeenDevice(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error) {
	seen, err := l.repo.HasSuccessWithFingerprint(ctx, userID, fingerprint, since)
	if err != nil {
		return false, fmt.Errorf("failed to check device history: %w", err)
	}
	return seen, nil
}
