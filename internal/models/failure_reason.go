package models

// FailureReason is the closed set of reasons recorded for a rejected login
type FailureReason string

const (
	// ReasonBadCredentials deliberately conflates unknown email and wrong password
	ReasonBadCredentials   FailureReason = "unknown_email_or_bad_password"
	ReasonAccountLocked    FailureReason = "account_locked"
	ReasonEmailNotVerified FailureReason = "email_not_verified"
	ReasonMFAInvalid       FailureReason = "mfa_code_invalid_or_expired"
	ReasonMFARateLimited   FailureReason = "mfa_rate_limited"
)

// Valid reports whether r belongs to the closed taxonomy
func (r FailureReason) Valid() bool {
	switch r {
	case ReasonBadCredentials, ReasonAccountLocked, ReasonEmailNotVerified, ReasonMFAInvalid, ReasonMFARateLimited:
		return true
	}
	return false
}

// Ptr returns a pointer to a copy of r
func (r FailureReason) Ptr() *FailureReason {
	return &r
}
