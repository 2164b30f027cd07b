package services

import (
	"context"
	"testing"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesService_GetReturnsDefaults(t *testing.T) {
	svc := NewPreferencesService(NewMockPreferencesRepository(), NewMockTOTPSecretRepository(), testLogger())

	p, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, p.MFAEnabled)
	assert.Equal(t, models.MFAMethodEmail, p.MFAMethod)
	assert.True(t, p.AllowTrustedDevices)
	assert.Equal(t, 30, p.TrustedDeviceDurationDays)
	assert.True(t, p.RequireMFAOnNewDevice)
	assert.True(t, p.NotifyOnNewLogin)
}

func TestPreferencesService_Update(t *testing.T) {
	svc := NewPreferencesService(NewMockPreferencesRepository(), NewMockTOTPSecretRepository(), testLogger())
	ctx := context.Background()

	enabled := true
	days := 14
	p, err := svc.Update(ctx, "user-1", PreferencesUpdate{MFAEnabled: &enabled, TrustedDeviceDurationDays: &days})
	require.NoError(t, err)
	assert.True(t, p.MFAEnabled)
	assert.Equal(t, 14, p.TrustedDeviceDurationDays)
	assert.True(t, p.NotifyOnNewLogin, "untouched fields keep their value")

	p, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, p.MFAEnabled)
}

func TestPreferencesService_UpdateValidation(t *testing.T) {
	svc := NewPreferencesService(NewMockPreferencesRepository(), NewMockTOTPSecretRepository(), testLogger())
	ctx := context.Background()

	zero := 0
	_, err := svc.Update(ctx, "user-1", PreferencesUpdate{TrustedDeviceDurationDays: &zero})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	tooLong := 366
	_, err = svc.Update(ctx, "user-1", PreferencesUpdate{TrustedDeviceDurationDays: &tooLong})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	method := models.MFAMethod("pigeon")
	_, err = svc.Update(ctx, "user-1", PreferencesUpdate{MFAMethod: &method})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestPreferencesService_AppMethodNeedsConfirmedSecret(t *testing.T) {
	secrets := NewMockTOTPSecretRepository()
	svc := NewPreferencesService(NewMockPreferencesRepository(), secrets, testLogger())
	ctx := context.Background()

	_, err := svc.EnableAppMFA(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)

	require.NoError(t, secrets.Save(ctx, &models.TOTPSecret{UserID: "user-1"}))
	_, err = svc.EnableAppMFA(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)

	ok, err := secrets.AcceptStep(ctx, "user-1", 1, true, newFakeClock().Now())
	require.NoError(t, err)
	require.True(t, ok)

	p, err := svc.EnableAppMFA(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, p.MFAEnabled)
	assert.Equal(t, models.MFAMethodApp, p.MFAMethod)
}
