package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mfaHarness struct {
	svc        *MFAService
	challenges *MockMFAChallengeRepository
	secrets    *MockTOTPSecretRepository
	counters   *MockFailureCounterRepository
	notifier   *MockNotifier
	clock      *fakeClock
	user       *models.User
}

func newMFAHarness(t *testing.T) *mfaHarness {
	t.Helper()

	tm, err := auth.NewTOTPManager(bytes.Repeat([]byte{7}, 32), "loginguard")
	require.NoError(t, err)

	h := &mfaHarness{
		challenges: &MockMFAChallengeRepository{},
		secrets:    NewMockTOTPSecretRepository(),
		counters:   NewMockFailureCounterRepository(),
		notifier:   &MockNotifier{},
		clock:      newFakeClock(),
		user:       &models.User{ID: "user-1", Email: "user@example.com", Name: "Ada"},
	}
	h.svc = NewMFAService(h.challenges, h.secrets, h.counters, tm, h.notifier, MFAConfig{
		CodeTTL:         10 * time.Minute,
		CodeDigits:      6,
		MaxFailures:     5,
		LockoutDuration: 15 * time.Minute,
	}, testLogger())
	h.svc.now = h.clock.Now
	return h
}

func (h *mfaHarness) enrollApp(t *testing.T) string {
	t.Helper()
	enrollment, err := h.svc.BeginTOTPEnrollment(context.Background(), h.user)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)
	verdict, err := h.svc.ConfirmTOTPEnrollment(context.Background(), h.user.ID, code)
	require.NoError(t, err)
	require.Equal(t, MFAAccepted, verdict)
	return enrollment.Secret
}

func TestMFAService_IssueDeliversNumericCode(t *testing.T) {
	h := newMFAHarness(t)

	code, err := h.svc.Issue(context.Background(), h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)
	assert.True(t, auth.IsNumericCode(code, 6))
	assert.Equal(t, code, h.notifier.LastCode())
}

func TestMFAService_CodeIsSingleUse(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)

	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
	require.NoError(t, err)
	assert.Equal(t, MFAAccepted, verdict)

	verdict, err = h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
	require.NoError(t, err)
	assert.Equal(t, MFARejected, verdict)
}

func TestMFAService_ExpiredCodeRejected(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)
	h.clock.Advance(10*time.Minute + time.Second)

	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
	require.NoError(t, err)
	assert.Equal(t, MFARejected, verdict)
}

func TestMFAService_ReissueReplacesLiveCode(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	first, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)
	second, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)

	assert.Equal(t, 1, h.challenges.Live(h.user.ID, h.clock.Now()))

	if first != second {
		verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, first)
		require.NoError(t, err)
		assert.Equal(t, MFARejected, verdict)
	}
	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, second)
	require.NoError(t, err)
	assert.Equal(t, MFAAccepted, verdict)
}

func TestMFAService_ConcurrentVerifyAcceptsOnce(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
			assert.NoError(t, err)
			if verdict == MFAAccepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestMFAService_RepeatedFailuresLock(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, "not-a-code")
		require.NoError(t, err)
		assert.Equal(t, MFARejected, verdict)
	}

	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
	require.NoError(t, err)
	assert.Equal(t, MFALocked, verdict, "the right code is not checked while locked")

	c, err := h.counters.Get(ctx, models.CounterKey{Scope: "mfa:login", Subject: h.user.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, c.AttemptCount)
}

func TestMFAService_SuccessClearsFailures(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	require.NoError(t, err)

	_, err = h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, "000000x")
	require.NoError(t, err)
	assert.Equal(t, 1, h.counters.Len())

	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodEmail, code)
	require.NoError(t, err)
	assert.Equal(t, MFAAccepted, verdict)
	assert.Equal(t, 0, h.counters.Len())
}

func TestMFAService_DeliveryFailureDoesNotFailIssue(t *testing.T) {
	h := newMFAHarness(t)
	h.notifier.Err = errors.New("smtp unavailable")

	code, err := h.svc.Issue(context.Background(), h.user, models.MFAPurposeLogin, models.MFAMethodSMS)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestMFAService_StoreFailureIsError(t *testing.T) {
	h := newMFAHarness(t)
	h.challenges.Err = errors.New("db down")

	_, err := h.svc.Issue(context.Background(), h.user, models.MFAPurposeLogin, models.MFAMethodEmail)
	assert.Error(t, err)
	assert.Empty(t, h.notifier.Codes)
}

func TestMFAService_TOTPEnrollmentAndVerify(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	secret := h.enrollApp(t)

	code, err := h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodApp)
	require.NoError(t, err)
	assert.Empty(t, code, "the app method sends nothing")
	assert.Empty(t, h.notifier.Codes)

	h.clock.Advance(30 * time.Second)
	appCode, err := totp.GenerateCode(secret, h.clock.Now())
	require.NoError(t, err)

	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodApp, appCode)
	require.NoError(t, err)
	assert.Equal(t, MFAAccepted, verdict)

	verdict, err = h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodApp, appCode)
	require.NoError(t, err)
	assert.Equal(t, MFARejected, verdict, "a time step is accepted once")
}

func TestMFAService_TOTPUnconfirmedIsNotUsable(t *testing.T) {
	h := newMFAHarness(t)
	ctx := context.Background()

	enrollment, err := h.svc.BeginTOTPEnrollment(ctx, h.user)
	require.NoError(t, err)
	assert.Contains(t, enrollment.OTPAuthURL, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCode, "data:image/png;base64,")

	_, err = h.svc.Issue(ctx, h.user, models.MFAPurposeLogin, models.MFAMethodApp)
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)

	code, err := totp.GenerateCode(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)
	verdict, err := h.svc.Verify(ctx, h.user.ID, models.MFAPurposeLogin, models.MFAMethodApp, code)
	require.NoError(t, err)
	assert.Equal(t, MFARejected, verdict)

	method, err := h.svc.MethodFor(ctx, h.user.ID, models.MFAMethodApp)
	require.NoError(t, err)
	assert.Equal(t, models.MFAMethodEmail, method)
}

func TestMFAService_ConfirmedEnrollmentCannotRestart(t *testing.T) {
	h := newMFAHarness(t)
	h.enrollApp(t)

	_, err := h.svc.BeginTOTPEnrollment(context.Background(), h.user)
	assert.ErrorIs(t, err, models.ErrConflict)

	method, err := h.svc.MethodFor(context.Background(), h.user.ID, models.MFAMethodApp)
	require.NoError(t, err)
	assert.Equal(t, models.MFAMethodApp, method)
}

func TestMFAService_AppUnavailableWithoutManager(t *testing.T) {
	svc := NewMFAService(&MockMFAChallengeRepository{}, nil, NewMockFailureCounterRepository(), nil, nil, MFAConfig{}, testLogger())
	user := &models.User{ID: "user-1", Email: "user@example.com"}

	_, err := svc.Issue(context.Background(), user, models.MFAPurposeLogin, models.MFAMethodApp)
	assert.ErrorIs(t, err, models.ErrUnsupportedMethod)

	_, err = svc.BeginTOTPEnrollment(context.Background(), user)
	assert.ErrorIs(t, err, models.ErrUnsupportedMethod)

	method, err := svc.MethodFor(context.Background(), user.ID, models.MFAMethodApp)
	require.NoError(t, err)
	assert.Equal(t, models.MFAMethodEmail, method)
}
