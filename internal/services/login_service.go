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
	pkgauth "github.com/BradenHooton/loginguard/pkg/auth"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

const suspiciousLoginWarning = "This sign-in came from a different country than your recent sign-ins. If it was not you, change your password now."

// CredentialStore looks up accounts by email
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// PasswordRehasher is implemented by credential stores that can replace a
// stored hash after a successful check
type PasswordRehasher interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// SessionCreator issues a session once a login is authenticated
type SessionCreator interface {
	Create(ctx context.Context, userID string) (*models.Session, error)
}

// LocationResolver resolves an IP address to a location snapshot, or nil
type LocationResolver interface {
	Resolve(ctx context.Context, ip string) *models.Location
}

// LoginConfig holds orchestrator settings
type LoginConfig struct {
	NewDeviceLookback time.Duration
	NotifyTimeout     time.Duration
}

// LoginDeps are the collaborators of the login orchestrator
type LoginDeps struct {
	Users       CredentialStore
	Sessions    SessionCreator
	Geo         LocationResolver
	Notifier    Notifier
	Fingerprint *auth.Fingerprinter
	Timing      *auth.TimingDelay

	Ledger      *AttemptLedger
	Lockout     *LockoutService
	Devices     *TrustedDeviceRegistry
	MFA         *MFAService
	Preferences *PreferencesService
	Detector    *SuspiciousActivityDetector

	Logger      *slog.Logger
	AuditLogger *pkglogger.AuditLogger
}

// LoginService runs one login attempt through lockout, credential, email
// verification and MFA checks and finalizes the successful ones.
type LoginService struct {
	deps           LoginDeps
	config         LoginConfig
	verifyPassword func(hash, password string) bool
	dummyCompare   func(password string)
	needsRehash    func(hash string) bool
	hashPassword   func(password string) (string, error)
	now            func() time.Time
}

// NewLoginService creates a new LoginService
func NewLoginService(deps LoginDeps, config LoginConfig) *LoginService {
	if config.NewDeviceLookback <= 0 {
		config.NewDeviceLookback = 90 * 24 * time.Hour
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 5 * time.Second
	}
	if deps.Fingerprint == nil {
		deps.Fingerprint = auth.NewFingerprinter(false)
	}
	return &LoginService{
		deps:           deps,
		config:         config,
		verifyPassword: pkgauth.VerifyPassword,
		dummyCompare:   pkgauth.DummyCompare,
		needsRehash:    pkgauth.NeedsRehash,
		hashPassword:   pkgauth.HashPassword,
		now:            time.Now,
	}
}

// loginAttempt is the per-request state carried between steps
type loginAttempt struct {
	id          string
	start       time.Time
	req         models.LoginRequest
	email       string
	fingerprint string
	location    *models.Location
	user        *models.User
}

func (a *loginAttempt) userID() *string {
	if a.user == nil {
		return nil
	}
	id := a.user.ID
	return &id
}

// AttemptLogin runs a single login attempt. Policy outcomes are returned in
// the LoginResult; a returned error always means an infrastructure failure
// and the caller should ask the user to try again.
func (s *LoginService) AttemptLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	a := &loginAttempt{
		start: time.Now(),
		req:   req,
		email: strings.ToLower(strings.TrimSpace(req.Email)),
		fingerprint: s.deps.Fingerprint.Fingerprint(auth.FingerprintInput{
			UserAgent:   req.UserAgent,
			IPAddress:   req.IPAddress,
			Environment: req.Environment,
		}),
	}
	if s.deps.Geo != nil {
		a.location = s.deps.Geo.Resolve(ctx, req.IPAddress)
	}

	id, err := s.deps.Ledger.Open(ctx, a.email, req.UserAgent, req.IPAddress, a.fingerprint, a.location)
	if err != nil {
		s.deps.Logger.Error("failed to open login attempt", slog.Any("error", err))
		return nil, err
	}
	a.id = id

	// lockout is checked before the credential store is touched
	status, err := s.deps.Lockout.IsLocked(ctx, a.email, req.IPAddress, a.fingerprint)
	if err != nil {
		return nil, s.fail(ctx, a, "lockout check", err)
	}
	if status.Locked {
		return s.locked(ctx, a, status)
	}

	user, err := s.deps.Users.GetByEmail(ctx, a.email)
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.dummyCompare(req.Password)
		return s.badCredentials(ctx, a)
	case err != nil:
		return nil, s.fail(ctx, a, "credential lookup", err)
	}
	// set before the password check so a wrong password is recorded against the owner
	a.user = user
	if !s.verifyPassword(user.PasswordHash, req.Password) {
		return s.badCredentials(ctx, a)
	}
	s.upgradePasswordHash(ctx, user, req.Password)

	if err := s.deps.Lockout.Clear(ctx, a.email, req.IPAddress, a.fingerprint); err != nil {
		return nil, s.fail(ctx, a, "lockout reset", err)
	}

	if !a.user.EmailVerified() {
		return s.reject(ctx, a, models.LoginEmailUnverified, models.ReasonEmailNotVerified, false)
	}

	prefs, err := s.deps.Preferences.Get(ctx, a.user.ID)
	if err != nil {
		return nil, s.fail(ctx, a, "preferences", err)
	}

	newDevice, err := s.isNewDevice(ctx, a)
	if err != nil {
		return nil, s.fail(ctx, a, "device history", err)
	}

	mfaRequired, err := s.requiresMFA(ctx, a, prefs, newDevice)
	if err != nil {
		return nil, s.fail(ctx, a, "trusted device check", err)
	}

	if mfaRequired {
		method, err := s.deps.MFA.MethodFor(ctx, a.user.ID, prefs.MFAMethod)
		if err != nil {
			return nil, s.fail(ctx, a, "mfa method", err)
		}
		if strings.TrimSpace(req.MFACode) == "" {
			return s.challenge(ctx, a, method)
		}

		verdict, err := s.deps.MFA.Verify(ctx, a.user.ID, models.MFAPurposeLogin, method, req.MFACode)
		if err != nil {
			return nil, s.fail(ctx, a, "mfa verification", err)
		}
		switch verdict {
		case MFALocked:
			return s.reject(ctx, a, models.LoginMFAInvalid, models.ReasonMFARateLimited, true)
		case MFARejected:
			return s.reject(ctx, a, models.LoginMFAInvalid, models.ReasonMFAInvalid, true)
		}
	}

	return s.finalize(ctx, a, prefs, mfaRequired, newDevice)
}

// isNewDevice reports whether the user has no recent successful login with this fingerprint
func (s *LoginService) isNewDevice(ctx context.Context, a *loginAttempt) (bool, error) {
	seen, err := s.deps.Ledger.SeenDevice(ctx, a.user.ID, a.fingerprint, s.now().Add(-s.config.NewDeviceLookback))
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// requiresMFA applies the MFA decision: enabled, not a trusted device, and a
// new device when the user asked for MFA on new devices
func (s *LoginService) requiresMFA(ctx context.Context, a *loginAttempt, prefs *models.UserLoginPreferences, newDevice bool) (bool, error) {
	if !prefs.MFAEnabled {
		return false, nil
	}
	if prefs.AllowTrustedDevices {
		trusted, err := s.deps.Devices.IsTrusted(ctx, a.user.ID, a.fingerprint)
		if err != nil {
			return false, err
		}
		if trusted {
			return false, nil
		}
	}
	return prefs.RequireMFAOnNewDevice && newDevice, nil
}

func (s *LoginService) locked(ctx context.Context, a *loginAttempt, status models.LockStatus) (*models.LoginResult, error) {
	reason := models.ReasonAccountLocked
	if err := s.close(ctx, a, models.OutcomeFailure, &reason, false, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, a, false, string(reason))
	s.deps.Timing.WaitFrom(ctx, a.start, false)

	return &models.LoginResult{
		Outcome:       models.LoginLocked,
		AttemptID:     a.id,
		FailureReason: reason.Ptr(),
		LockedUntil:   status.LockedUntil,
		RetryAfter:    status.RetryAfter(s.now()),
	}, nil
}

func (s *LoginService) badCredentials(ctx context.Context, a *loginAttempt) (*models.LoginResult, error) {
	status, err := s.deps.Lockout.RecordFailure(ctx, a.email, a.req.IPAddress, a.fingerprint)
	if err != nil {
		return nil, s.fail(ctx, a, "record failure", err)
	}
	if status.Locked {
		return s.locked(ctx, a, status)
	}

	reason := models.ReasonBadCredentials
	if err := s.close(ctx, a, models.OutcomeFailure, &reason, false, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, a, false, string(reason))
	s.deps.Timing.WaitFrom(ctx, a.start, false)

	return &models.LoginResult{
		Outcome:       models.LoginInvalidCredentials,
		AttemptID:     a.id,
		FailureReason: reason.Ptr(),
	}, nil
}

func (s *LoginService) reject(ctx context.Context, a *loginAttempt, outcome models.LoginOutcome, reason models.FailureReason, mfaRequired bool) (*models.LoginResult, error) {
	if err := s.close(ctx, a, models.OutcomeFailure, &reason, mfaRequired, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, a, false, string(reason))

	return &models.LoginResult{
		Outcome:       outcome,
		AttemptID:     a.id,
		FailureReason: reason.Ptr(),
	}, nil
}

// challenge issues a code and ends this attempt awaiting a follow-up request
func (s *LoginService) challenge(ctx context.Context, a *loginAttempt, method models.MFAMethod) (*models.LoginResult, error) {
	if _, err := s.deps.MFA.Issue(ctx, a.user, models.MFAPurposeLogin, method); err != nil {
		return nil, s.fail(ctx, a, "mfa issue", err)
	}
	if err := s.close(ctx, a, models.OutcomeFailure, nil, true, nil); err != nil {
		return nil, err
	}
	s.deps.AuditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:         "login_mfa_required",
		AttemptID:         a.id,
		Email:             a.email,
		UserID:            a.user.ID,
		IPAddress:         a.req.IPAddress,
		UserAgent:         a.req.UserAgent,
		DeviceFingerprint: a.fingerprint,
		Success:           true,
		Metadata:          map[string]string{"mfa_method": string(method)},
	})

	return &models.LoginResult{
		Outcome:   models.LoginMFARequired,
		AttemptID: a.id,
		MFAMethod: method,
	}, nil
}

func (s *LoginService) finalize(ctx context.Context, a *loginAttempt, prefs *models.UserLoginPreferences, mfaRequired, newDevice bool) (*models.LoginResult, error) {
	result := &models.LoginResult{
		Outcome:   models.LoginAuthenticated,
		AttemptID: a.id,
		NewDevice: newDevice,
		User: &models.UserSummary{
			ID:    a.user.ID,
			Email: a.user.Email,
			Name:  a.user.Name,
		},
	}

	if a.req.RememberDevice && prefs.AllowTrustedDevices {
		deviceID, err := s.deps.Devices.Add(ctx, TrustRequest{
			UserID:       a.user.ID,
			Fingerprint:  a.fingerprint,
			DeviceName:   a.req.DeviceName,
			IPAddress:    a.req.IPAddress,
			UserAgent:    a.req.UserAgent,
			Location:     a.location,
			DurationDays: prefs.TrustedDeviceDurationDays,
		})
		if err != nil {
			return nil, s.fail(ctx, a, "trust device", err)
		}
		result.DeviceID = deviceID
	}

	// runs before the attempt is closed so the current login is not its own history
	suspicion, err := s.deps.Detector.Evaluate(ctx, a.user.ID, a.location)
	if err != nil {
		return nil, s.fail(ctx, a, "suspicious activity check", err)
	}
	result.Suspicion = suspicion

	session, err := s.deps.Sessions.Create(ctx, a.user.ID)
	if err != nil {
		return nil, s.fail(ctx, a, "session issuance", err)
	}
	result.Session = session

	sessionRef := session.TokenID
	if err := s.close(ctx, a, models.OutcomeSuccess, nil, mfaRequired, &sessionRef); err != nil {
		return nil, err
	}

	s.notifyLogin(ctx, a, prefs, suspicion, newDevice)
	s.audit(ctx, a, true, "")
	s.deps.Timing.WaitFrom(ctx, a.start, true)

	s.deps.Logger.Info("login succeeded",
		slog.String("attempt_id", a.id),
		slog.String("user_id", a.user.ID),
		slog.Bool("mfa", mfaRequired),
		slog.Bool("new_device", newDevice),
		slog.Bool("suspicious", suspicion.Suspicious))
	return result, nil
}

// notifyLogin sends a login alert for suspicious logins, or for new devices
// when the user opted in. Send failures are logged only.
func (s *LoginService) notifyLogin(ctx context.Context, a *loginAttempt, prefs *models.UserLoginPreferences, suspicion *models.SuspicionResult, newDevice bool) {
	if s.deps.Notifier == nil {
		return
	}

	var warning string
	switch {
	case suspicion != nil && suspicion.Suspicious:
		warning = suspiciousLoginWarning
	case newDevice && prefs.NotifyOnNewLogin:
	default:
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.NotifyTimeout)
	defer cancel()

	if err := s.deps.Notifier.SendLoginAlert(sendCtx, a.user.Email, a.user.Name, a.location.Summary(), warning); err != nil {
		s.deps.Logger.Error("failed to send login alert",
			slog.String("user_id", a.user.ID),
			slog.Any("error", err))
	}
}

func (s *LoginService) close(ctx context.Context, a *loginAttempt, outcome models.AttemptOutcome, reason *models.FailureReason, mfaRequired bool, sessionRef *string) error {
	err := s.deps.Ledger.Close(ctx, a.id, models.AttemptClose{
		Outcome:       outcome,
		FailureReason: reason,
		MFARequired:   mfaRequired,
		SessionRef:    sessionRef,
		UserID:        a.userID(),
	})
	if err != nil {
		s.deps.Logger.Error("failed to close login attempt",
			slog.String("attempt_id", a.id),
			slog.Any("error", err))
		return err
	}
	return nil
}

// fail closes the attempt as a failure without a policy reason and returns
// err for the caller to surface as "try again"
func (s *LoginService) fail(ctx context.Context, a *loginAttempt, step string, err error) error {
	s.deps.Logger.Error("login aborted by infrastructure failure",
		slog.String("attempt_id", a.id),
		slog.String("step", step),
		slog.Any("error", err))

	closeErr := s.deps.Ledger.Close(context.WithoutCancel(ctx), a.id, models.AttemptClose{
		Outcome: models.OutcomeFailure,
		UserID:  a.userID(),
	})
	if closeErr != nil {
		s.deps.Logger.Warn("failed to close aborted login attempt",
			slog.String("attempt_id", a.id),
			slog.Any("error", closeErr))
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (s *LoginService) audit(ctx context.Context, a *loginAttempt, success bool, reason string) {
	event := pkglogger.AuditEvent{
		EventType:         "login",
		AttemptID:         a.id,
		Email:             a.email,
		IPAddress:         a.req.IPAddress,
		UserAgent:         a.req.UserAgent,
		DeviceFingerprint: a.fingerprint,
		Success:           success,
		FailureReason:     reason,
	}
	if a.user != nil {
		event.UserID = a.user.ID
	}
	s.deps.AuditLogger.LogAuthAttempt(ctx, event)
}

// upgradePasswordHash re-hashes a correct password stored below the current
// bcrypt cost. Failures are logged and never affect the login.
func (s *LoginService) upgradePasswordHash(ctx context.Context, user *models.User, password string) {
	rehasher, ok := s.deps.Users.(PasswordRehasher)
	if !ok || !s.needsRehash(user.PasswordHash) {
		return
	}

	hash, err := s.hashPassword(password)
	if err == nil {
		err = rehasher.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.deps.Logger.Warn("failed to upgrade password hash",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return
	}
	user.PasswordHash = hash
}
