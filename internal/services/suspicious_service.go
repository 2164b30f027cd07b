package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// SuccessHistory is the slice of the attempt ledger the detector reads
type SuccessHistory interface {
	SuccessfulSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.LoginAttempt, error)
}

// SuspiciousActivityDetector flags logins from a country the user has not
// recently logged in from. Its verdict is advisory.
type SuspiciousActivityDetector struct {
	history  SuccessHistory
	lookback time.Duration
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewSuspiciousActivityDetector creates a new SuspiciousActivityDetector
func NewSuspiciousActivityDetector(history SuccessHistory, lookback time.Duration, limit int, logger *slog.Logger) *SuspiciousActivityDetector {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 20
	}
	return &SuspiciousActivityDetector{
		history:  history,
		lookback: lookback,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate compares current against the most recent prior successful login
// that has a location. Missing data on either side is never suspicious.
func (d *SuspiciousActivityDetector) Evaluate(ctx context.Context, userID string, current *models.Location) (*models.SuspicionResult, error) {
	result := &models.SuspicionResult{Current: current}
	if !current.HasCountry() {
		return result, nil
	}

	prior, err := d.history.SuccessfulSince(ctx, userID, d.now().Add(-d.lookback), d.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load login history: %w", err)
	}

	for _, a := range prior {
		if !a.Location.HasCountry() {
			continue
		}
		result.Previous = a.Location
		if !a.Location.SameCountry(current) {
			result.Suspicious = true
			result.Reason = models.SuspicionReasonDifferentCountry
			d.logger.Warn("login from a different country",
				slog.String("user_id", userID),
				slog.String("previous_country", a.Location.CountryCode),
				slog.String("current_country", current.CountryCode))
		}
		break
	}
	return result, nil
}
