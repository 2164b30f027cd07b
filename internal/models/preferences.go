package models

import "time"

// UserLoginPreferences governs MFA and trusted-device behaviour for one user
type UserLoginPreferences struct {
	UserID                    string    `json:"user_id"`
	MFAEnabled                bool      `json:"mfa_enabled"`
	MFAMethod                 MFAMethod `json:"mfa_method"`
	AllowTrustedDevices       bool      `json:"allow_trusted_devices"`
	TrustedDeviceDurationDays int       `json:"trusted_device_duration_days"`
	RequireMFAOnNewDevice     bool      `json:"require_mfa_on_new_device"`
	NotifyOnNewLogin          bool      `json:"notify_on_new_login"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DefaultTrustedDeviceDays is used when preferences carry no positive duration
const DefaultTrustedDeviceDays = 30

// DefaultLoginPreferences returns the documented defaults; a missing row means exactly these values
func DefaultLoginPreferences(userID string) *UserLoginPreferences {
	return &UserLoginPreferences{
		UserID:                    userID,
		MFAEnabled:                false,
		MFAMethod:                 MFAMethodEmail,
		AllowTrustedDevices:       true,
		TrustedDeviceDurationDays: DefaultTrustedDeviceDays,
		RequireMFAOnNewDevice:     true,
		NotifyOnNewLogin:          true,
	}
}

// TrustDuration returns the trusted-device window as a duration
func (p *UserLoginPreferences) TrustDuration() time.Duration {
	days := p.TrustedDeviceDurationDays
	if days <= 0 {
		days = DefaultTrustedDeviceDays
	}
	return time.Duration(days) * 24 * time.Hour
}
