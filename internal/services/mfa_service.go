package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
)

// MFAPurposeTOTPEnroll scopes failures while confirming a new authenticator app
const MFAPurposeTOTPEnroll = "totp_enroll"

const totpDigits = 6

// Notifier delivers out-of-band messages. Implementations live in internal/notify.
type Notifier interface {
	SendMFACode(ctx context.Context, email, name, code string) error
	SendLoginAlert(ctx context.Context, email, name, locationSummary, warning string) error
}

// MFAChallengeRepository defines storage for one-time codes
type MFAChallengeRepository interface {
	Replace(ctx context.Context, ch *models.MFAChallenge, now time.Time) error
	Consume(ctx context.Context, userID, purpose, codeHash string, now time.Time) (bool, error)
}

// TOTPSecretRepository defines storage for authenticator-app secrets
type TOTPSecretRepository interface {
	Save(ctx context.Context, s *models.TOTPSecret) error
	Get(ctx context.Context, userID string) (*models.TOTPSecret, error)
	AcceptStep(ctx context.Context, userID string, step int64, confirm bool, now time.Time) (bool, error)
}

// MFAVerdict is the result of checking a submitted code
type MFAVerdict int

const (
	MFARejected MFAVerdict = iota
	MFAAccepted
	// MFALocked means too many recent failures; the code was not checked
	MFALocked
)

// MFAConfig holds MFA configuration
type MFAConfig struct {
	CodeTTL         time.Duration
	CodeDigits      int
	MaxFailures     int
	LockoutDuration time.Duration
	NotifyTimeout   time.Duration
}

// MFAService issues and verifies second-factor codes
type MFAService struct {
	challenges MFAChallengeRepository
	secrets    TOTPSecretRepository
	totp       *auth.TOTPManager
	notifier   Notifier
	guard      *failureGuard
	config     MFAConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewMFAService creates a new MFAService. totp and secrets may be nil, in
// which case the app method is unavailable.
func NewMFAService(
	challenges MFAChallengeRepository,
	secrets TOTPSecretRepository,
	counters FailureCounterRepository,
	totp *auth.TOTPManager,
	notifier Notifier,
	config MFAConfig,
	logger *slog.Logger,
) *MFAService {
	if config.CodeTTL <= 0 {
		config.CodeTTL = 10 * time.Minute
	}
	if config.CodeDigits == 0 {
		config.CodeDigits = 6
	}
	if config.MaxFailures < 1 {
		config.MaxFailures = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 5 * time.Second
	}

	s := &MFAService{
		challenges: challenges,
		secrets:    secrets,
		totp:       totp,
		notifier:   notifier,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
	s.guard = &failureGuard{
		repo: counters,
		policy: models.CounterPolicy{
			Threshold:       config.MaxFailures,
			LockoutDuration: config.LockoutDuration,
			Window:          config.LockoutDuration,
		},
		now: func() time.Time { return s.now() },
	}
	return s
}

func (s *MFAService) appAvailable() bool {
	return s.totp != nil && s.secrets != nil
}

// Issue starts a challenge for method. Email and SMS get a fresh code that
// replaces any live one and is handed to the Notifier; the code is returned.
// The app method issues nothing and returns an empty code.
func (s *MFAService) Issue(ctx context.Context, user *models.User, purpose string, method models.MFAMethod) (string, error) {
	switch method {
	case models.MFAMethodApp:
		if !s.appAvailable() {
			return "", models.ErrUnsupportedMethod
		}
		secret, err := s.secrets.Get(ctx, user.ID)
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrMFANotEnrolled
		}
		if err != nil {
			return "", fmt.Errorf("failed to load totp secret: %w", err)
		}
		if !secret.IsConfirmed() {
			return "", models.ErrMFANotEnrolled
		}
		return "", nil
	case models.MFAMethodEmail, models.MFAMethodSMS:
	default:
		return "", models.ErrUnsupportedMethod
	}

	code, err := auth.GenerateNumericCode(s.config.CodeDigits)
	if err != nil {
		return "", err
	}

	now := s.now()
	ch := &models.MFAChallenge{
		UserID:    user.ID,
		CodeHash:  auth.HashCode(code),
		Purpose:   purpose,
		Method:    method,
		ExpiresAt: now.Add(s.config.CodeTTL),
	}
	if err := s.challenges.Replace(ctx, ch, now); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	s.deliver(ctx, user, code)
	s.logger.Info("mfa challenge issued",
		slog.String("user_id", user.ID),
		slog.String("purpose", purpose),
		slog.String("method", string(method)))
	return code, nil
}

// deliver sends the code; a delivery failure is logged and does not fail the challenge
func (s *MFAService) deliver(ctx context.Context, user *models.User, code string) {
	if s.notifier == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.config.NotifyTimeout)
	defer cancel()

	if err := s.notifier.SendMFACode(sendCtx, user.Email, user.Name, code); err != nil {
		s.logger.Error("failed to deliver mfa code",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}
}

// Verify checks code for (userID, purpose). Every rejection feeds the MFA
// failure counter; once it locks, Verify returns MFALocked without checking.
func (s *MFAService) Verify(ctx context.Context, userID, purpose string, method models.MFAMethod, code string) (MFAVerdict, error) {
	return s.verify(ctx, userID, purpose, code, func(code string) (bool, error) {
		if method == models.MFAMethodApp {
			return s.acceptTOTP(ctx, userID, code, false)
		}
		if !auth.IsNumericCode(code, s.config.CodeDigits) {
			return false, nil
		}
		return s.challenges.Consume(ctx, userID, purpose, auth.HashCode(code), s.now())
	})
}

func (s *MFAService) verify(ctx context.Context, userID, purpose, code string, check func(string) (bool, error)) (MFAVerdict, error) {
	key := models.CounterKey{Scope: models.CounterScopeMFAPrefix + purpose, Subject: userID}

	st, err := s.guard.status(ctx, key)
	if err != nil {
		return MFARejected, err
	}
	if st.Locked {
		s.logger.Warn("mfa verification refused while locked",
			slog.String("user_id", userID),
			slog.String("purpose", purpose))
		return MFALocked, nil
	}

	ok, err := check(strings.TrimSpace(code))
	if err != nil {
		return MFARejected, err
	}

	if ok {
		if err := s.guard.clear(ctx, key); err != nil {
			return MFARejected, err
		}
		return MFAAccepted, nil
	}

	if _, err := s.guard.fail(ctx, key); err != nil {
		return MFARejected, err
	}
	s.logger.Warn("mfa verification failed",
		slog.String("user_id", userID),
		slog.String("purpose", purpose))
	return MFARejected, nil
}

// acceptTOTP matches code against the user's secret and claims its time step
func (s *MFAService) acceptTOTP(ctx context.Context, userID, code string, confirm bool) (bool, error) {
	if !s.appAvailable() {
		return false, models.ErrUnsupportedMethod
	}
	if !auth.IsNumericCode(code, totpDigits) {
		return false, nil
	}

	secret, err := s.secrets.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load totp secret: %w", err)
	}
	if !confirm && !secret.IsConfirmed() {
		return false, nil
	}

	plain, err := s.totp.DecryptSecret(secret.SecretEncrypted, secret.SecretNonce, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	step, ok, err := s.totp.MatchStep(string(plain), code, now)
	if err != nil || !ok {
		return false, err
	}
	return s.secrets.AcceptStep(ctx, userID, step, confirm, now)
}

// BeginTOTPEnrollment creates a new unconfirmed secret for the user
func (s *MFAService) BeginTOTPEnrollment(ctx context.Context, user *models.User) (*models.TOTPEnrollment, error) {
	if !s.appAvailable() {
		return nil, models.ErrUnsupportedMethod
	}

	existing, err := s.secrets.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load totp secret: %w", err)
	}
	if existing != nil && existing.IsConfirmed() {
		return nil, models.ErrConflict
	}

	enrollment, encrypted, nonce, err := s.totp.Enroll(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.secrets.Save(ctx, &models.TOTPSecret{
		UserID:          user.ID,
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
	}); err != nil {
		return nil, fmt.Errorf("failed to save totp secret: %w", err)
	}

	s.logger.Info("totp enrollment started", slog.String("user_id", user.ID))
	return enrollment, nil
}

// ConfirmTOTPEnrollment verifies the first code from the app and marks the secret confirmed
func (s *MFAService) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) (MFAVerdict, error) {
	if !s.appAvailable() {
		return MFARejected, models.ErrUnsupportedMethod
	}
	verdict, err := s.verify(ctx, userID, MFAPurposeTOTPEnroll, code, func(code string) (bool, error) {
		return s.acceptTOTP(ctx, userID, code, true)
	})
	if err == nil && verdict == MFAAccepted {
		s.logger.Info("totp enrollment confirmed", slog.String("user_id", userID))
	}
	return verdict, err
}

// MethodFor resolves the method a challenge will actually use. A user who
// prefers the app but has no confirmed secret falls back to email.
func (s *MFAService) MethodFor(ctx context.Context, userID string, preferred models.MFAMethod) (models.MFAMethod, error) {
	if preferred != models.MFAMethodApp {
		if !preferred.Valid() {
			return models.MFAMethodEmail, nil
		}
		return preferred, nil
	}
	if !s.appAvailable() {
		return models.MFAMethodEmail, nil
	}

	secret, err := s.secrets.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.MFAMethodEmail, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load totp secret: %w", err)
	}
	if !secret.IsConfirmed() {
		return models.MFAMethodEmail, nil
	}
	return models.MFAMethodApp, nil
}
