package models

import "time"

// AttemptOutcome is the lifecycle state of a login attempt
type AttemptOutcome string

const (
	OutcomePending AttemptOutcome = "pending"
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// LoginAttempt represents a single login attempt in the ledger
type LoginAttempt struct {
	ID                string         `db:"id"`
	Email             string         `db:"email"`
	UserID            *string        `db:"user_id"`
	IPAddress         string         `db:"ip_address"`
	UserAgent         string         `db:"user_agent"`
	DeviceFingerprint string         `db:"device_fingerprint"`
	Location          *Location      `db:"location"`
	Outcome           AttemptOutcome `db:"outcome"`
	FailureReason     *FailureReason `db:"failure_reason"`
	MFARequired       bool           `db:"mfa_required"`
	SessionRef        *string        `db:"session_ref"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// IsClosed reports whether the attempt reached a terminal outcome
func (a *LoginAttempt) IsClosed() bool {
	return a.Outcome != OutcomePending
}

// AttemptClose carries the terminal fields written when an attempt is closed
type AttemptClose struct {
	Outcome       AttemptOutcome
	FailureReason *FailureReason
	MFARequired   bool
	SessionRef    *string
	UserID        *string
}
