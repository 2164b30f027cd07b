package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/config"
	"github.com/BradenHooton/loginguard/internal/models"
)

// FailureCounterRepository defines the atomic counter operations lockout relies on
type FailureCounterRepository interface {
	Increment(ctx context.Context, key models.CounterKey, policy models.CounterPolicy, now time.Time) (*models.FailedAttemptCounter, error)
	Get(ctx context.Context, key models.CounterKey) (*models.FailedAttemptCounter, error)
	Delete(ctx context.Context, key models.CounterKey) error
}

// failureGuard applies a CounterPolicy to counters in a repository
type failureGuard struct {
	repo   FailureCounterRepository
	policy models.CounterPolicy
	now    func() time.Time
}

func (g *failureGuard) status(ctx context.Context, key models.CounterKey) (models.LockStatus, error) {
	c, err := g.repo.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return models.LockStatus{}, nil
	}
	if err != nil {
		return models.LockStatus{}, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return statusOf(c, g.now()), nil
}

func (g *failureGuard) fail(ctx context.Context, key models.CounterKey) (models.LockStatus, error) {
	now := g.now()
	c, err := g.repo.Increment(ctx, key, g.policy, now)
	if err != nil {
		return models.LockStatus{}, fmt.Errorf("failed to record failure: %w", err)
	}
	return statusOf(c, now), nil
}

func (g *failureGuard) clear(ctx context.Context, key models.CounterKey) error {
	if err := g.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear failure counter: %w", err)
	}
	return nil
}

func statusOf(c *models.FailedAttemptCounter, now time.Time) models.LockStatus {
	st := models.LockStatus{FailedCount: c.AttemptCount}
	if c.IsLocked(now) {
		st.Locked = true
		st.LockedUntil = c.LockedUntil
	}
	return st
}

// LockoutConfig holds the login lockout policy
type LockoutConfig struct {
	Threshold       int
	LockoutDuration time.Duration
	Window          time.Duration
	// Scope is config.LockoutScopeTuple (email, ip, fingerprint) or
	// config.LockoutScopeEmail (email only)
	Scope string
}

// LockoutService decides whether a login key is locked out from repeated failures
type LockoutService struct {
	guard  *failureGuard
	scope  string
	logger *slog.Logger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo FailureCounterRepository, cfg LockoutConfig, logger *slog.Logger) *LockoutService {
	if cfg.Threshold < 1 {
		cfg.Threshold = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	logger.Info("lockout policy configured",
		slog.String("scope", cfg.Scope),
		slog.Int("threshold", cfg.Threshold),
		slog.Duration("duration", cfg.LockoutDuration),
		slog.Duration("window", cfg.Window),
	)
	return &LockoutService{
		guard: &failureGuard{
			repo: repo,
			policy: models.CounterPolicy{
				Threshold:       cfg.Threshold,
				LockoutDuration: cfg.LockoutDuration,
				Window:          cfg.Window,
			},
			now: time.Now,
		},
		scope:  cfg.Scope,
		logger: logger,
	}
}

// Key builds the counter key for a login attempt under the configured scope
func (s *LockoutService) Key(email, ipAddress, fingerprint string) models.CounterKey {
	key := models.CounterKey{
		Scope:   models.CounterScopeLogin,
		Subject: strings.ToLower(strings.TrimSpace(email)),
	}
	if s.scope != config.LockoutScopeEmail {
		key.IPAddress = ipAddress
		key.DeviceFingerprint = fingerprint
	}
	return key
}

// IsLocked reports whether the key currently holds an unexpired lock
func (s *LockoutService) IsLocked(ctx context.Context, email, ipAddress, fingerprint string) (models.LockStatus, error) {
	return s.guard.status(ctx, s.Key(email, ipAddress, fingerprint))
}

// RecordFailure counts one failed credential check and returns the resulting status
func (s *LockoutService) RecordFailure(ctx context.Context, email, ipAddress, fingerprint string) (models.LockStatus, error) {
	st, err := s.guard.fail(ctx, s.Key(email, ipAddress, fingerprint))
	if err != nil {
		return st, err
	}

	if st.Locked && st.FailedCount == s.guard.policy.Threshold {
		s.logger.Warn("login key locked",
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", st.FailedCount),
			slog.Time("locked_until", *st.LockedUntil))
	}
	return st, nil
}

// Clear deletes the counter for exactly this key
func (s *LockoutService) Clear(ctx context.Context, email, ipAddress, fingerprint string) error {
	return s.guard.clear(ctx, s.Key(email, ipAddress, fingerprint))
}
