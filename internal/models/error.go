package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Ledger and challenge state errors
	ErrAttemptClosed     = errors.New("login attempt already closed")
	ErrMFANotEnrolled    = errors.New("authenticator app not enrolled")
	ErrUnsupportedMethod = errors.New("unsupported MFA method")
)
