package models

import (
	"time"
)

// MFAMethod is the delivery channel for a second factor
type MFAMethod string

const (
	MFAMethodEmail MFAMethod = "email"
	MFAMethodSMS   MFAMethod = "sms"
	MFAMethodApp   MFAMethod = "app"
)

// Valid reports whether m is a known method
func (m MFAMethod) Valid() bool {
	switch m {
	case MFAMethodEmail, MFAMethodSMS, MFAMethodApp:
		return true
	}
	return false
}

// MFAPurposeLogin tags challenges issued during sign-in
const MFAPurposeLogin = "login"

// MFAChallenge is a short-lived single-use verification code
type MFAChallenge struct {
	ID        string
	UserID    string
	CodeHash  string // SHA-256 of the numeric code, never the code itself
	Purpose   string
	Method    MFAMethod
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsValidAt reports whether the challenge may still be redeemed at now
func (c *MFAChallenge) IsValidAt(now time.Time) bool {
	return c.UsedAt == nil && c.ExpiresAt.After(now)
}

// TOTPSecret is an enrolled authenticator-app secret
type TOTPSecret struct {
	UserID          string
	SecretEncrypted []byte // AES-256-GCM encrypted base32 secret
	SecretNonce     []byte
	LastUsedStep    int64 // last accepted 30s time step, blocks replay
	ConfirmedAt     *time.Time
	CreatedAt       time.Time
}

// IsConfirmed reports whether enrollment finished
func (s *TOTPSecret) IsConfirmed() bool {
	return s.ConfirmedAt != nil
}

// TOTPEnrollment is returned once when enrollment starts
type TOTPEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"` // PNG data URL
}
