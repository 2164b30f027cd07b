package models

import "time"

// TrustedDevice is a (user, device fingerprint) pair exempted from MFA until TrustedUntil
type TrustedDevice struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	DeviceName        string    `json:"device_name"`
	LastIPAddress     string    `json:"last_ip_address"`
	LastUserAgent     string    `json:"last_user_agent"`
	Location          *Location `json:"location,omitempty"`
	TrustedUntil      time.Time `json:"trusted_until"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsTrustedAt reports whether the device is active and unexpired at now
func (d *TrustedDevice) IsTrustedAt(now time.Time) bool {
	return d.Active && d.TrustedUntil.After(now)
}
