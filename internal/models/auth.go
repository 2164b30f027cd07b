package models

import (
	"time"
)

// ClientEnvironment is the flat set of client-reported attributes used for fingerprinting
type ClientEnvironment struct {
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	Platform         string `json:"platform,omitempty"`
	CookiesEnabled   *bool  `json:"cookies_enabled,omitempty"`
	Canvas           string `json:"canvas,omitempty"`
	WebGL            string `json:"webgl,omitempty"`
}

// LoginRequest carries everything the orchestrator needs for one attempt.
// IPAddress and UserAgent come from the transport, never from the body.
type LoginRequest struct {
	Email          string
	Password       string
	MFACode        string
	RememberDevice bool
	DeviceName     string
	Environment    ClientEnvironment
	IPAddress      string
	UserAgent      string
}

// LoginOutcome tags the variant carried by a LoginResult
type LoginOutcome string

const (
	LoginLocked             LoginOutcome = "locked"
	LoginInvalidCredentials LoginOutcome = "invalid_credentials"
	LoginEmailUnverified    LoginOutcome = "email_unverified"
	LoginMFARequired        LoginOutcome = "mfa_required"
	LoginMFAInvalid         LoginOutcome = "mfa_invalid"
	LoginAuthenticated      LoginOutcome = "authenticated"
)

// LoginResult is the tagged result of one attempt. Only the fields relevant
// to Outcome are set.
type LoginResult struct {
	Outcome       LoginOutcome
	AttemptID     string
	FailureReason *FailureReason

	// Locked
	LockedUntil *time.Time
	RetryAfter  time.Duration

	// MFARequired
	MFAMethod MFAMethod

	// Authenticated
	User      *UserSummary
	Session   *Session
	Suspicion *SuspicionResult
	DeviceID  string
	NewDevice bool
}

// Session is the handle produced by session issuance
type Session struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SuspicionResult is the advisory output of the suspicious activity detector
type SuspicionResult struct {
	Suspicious bool      `json:"suspicious"`
	Reason     string    `json:"reason,omitempty"`
	Previous   *Location `json:"previous,omitempty"`
	Current    *Location `json:"current,omitempty"`
}

// SuspicionReasonDifferentCountry is the only reason the detector emits
const SuspicionReasonDifferentCountry = "different country"
