package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureReason_Valid(t *testing.T) {
	for _, r := range []FailureReason{
		ReasonBadCredentials, ReasonAccountLocked, ReasonEmailNotVerified, ReasonMFAInvalid, ReasonMFARateLimited,
	} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, FailureReason("unknown_email").Valid())
	assert.False(t, FailureReason("").Valid())
}

func TestLocation(t *testing.T) {
	fr := &Location{CountryCode: "FR", Country: "France", City: "Lyon", Region: "Auvergne-Rhône-Alpes"}

	assert.True(t, fr.HasCountry())
	assert.False(t, (&Location{City: "Nowhere"}).HasCountry())
	assert.False(t, (*Location)(nil).HasCountry())

	assert.True(t, fr.SameCountry(&Location{CountryCode: " fr "}))
	assert.False(t, fr.SameCountry(&Location{CountryCode: "US"}))

	assert.Equal(t, "Lyon, Auvergne-Rhône-Alpes, France", fr.Summary())
	assert.Equal(t, "US", (&Location{CountryCode: "US"}).Summary())
	assert.Equal(t, "Unknown location", (*Location)(nil).Summary())
}

func TestLockStatus_RetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)

	assert.Equal(t, 90*time.Second, LockStatus{Locked: true, LockedUntil: &until}.RetryAfter(now))
	assert.Zero(t, LockStatus{Locked: true, LockedUntil: &until}.RetryAfter(until.Add(time.Second)))
	assert.Zero(t, LockStatus{}.RetryAfter(now))
}

func TestFailedAttemptCounter_IsLocked(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	assert.True(t, (&FailedAttemptCounter{LockedUntil: &until}).IsLocked(now))
	assert.False(t, (&FailedAttemptCounter{LockedUntil: &until}).IsLocked(until))
	assert.False(t, (&FailedAttemptCounter{AttemptCount: 4}).IsLocked(now))
	assert.False(t, (*FailedAttemptCounter)(nil).IsLocked(now))
}

func TestDefaultLoginPreferences(t *testing.T) {
	p := DefaultLoginPreferences("user-1")

	assert.False(t, p.MFAEnabled)
	assert.Equal(t, MFAMethodEmail, p.MFAMethod)
	assert.True(t, p.AllowTrustedDevices)
	assert.True(t, p.RequireMFAOnNewDevice)
	assert.True(t, p.NotifyOnNewLogin)
	assert.Equal(t, 30*24*time.Hour, p.TrustDuration())

	p.TrustedDeviceDurationDays = 0
	assert.Equal(t, 30*24*time.Hour, p.TrustDuration())
}

func TestTrustedDevice_IsTrustedAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := &TrustedDevice{Active: true, TrustedUntil: now.Add(time.Hour)}

	assert.True(t, d.IsTrustedAt(now))
	assert.False(t, d.IsTrustedAt(now.Add(time.Hour)))

	d.Active = false
	assert.False(t, d.IsTrustedAt(now))
}

func TestMFAMethodAndChallenge(t *testing.T) {
	assert.True(t, MFAMethodApp.Valid())
	assert.False(t, MFAMethod("carrier_pigeon").Valid())

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ch := &MFAChallenge{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, ch.IsValidAt(now))
	assert.False(t, ch.IsValidAt(now.Add(time.Minute)))

	used := now
	ch.UsedAt = &used
	assert.False(t, ch.IsValidAt(now))
}
