package models

import "time"

// Counter scopes
const (
	CounterScopeLogin = "login"
	// CounterScopeMFAPrefix is joined with the challenge purpose, e.g. "mfa:login"
	CounterScopeMFAPrefix = "mfa:"
)

// CounterKey identifies one failure counter row
type CounterKey struct {
	Scope             string
	Subject           string // email for login, user id for MFA
	IPAddress         string
	DeviceFingerprint string
}

// FailedAttemptCounter is a rolling failure counter for one key
type FailedAttemptCounter struct {
	Key            CounterKey
	AttemptCount   int
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
	LockedUntil    *time.Time
}

// IsLocked reports whether the counter holds an unexpired lock at now
func (c *FailedAttemptCounter) IsLocked(now time.Time) bool {
	return c != nil && c.LockedUntil != nil && c.LockedUntil.After(now)
}

// CounterPolicy describes how a failure is folded into a counter
type CounterPolicy struct {
	Threshold       int
	LockoutDuration time.Duration
	Window          time.Duration // idle counters older than this start over
}

// LockStatus is the answer to "is this key locked"
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
	FailedCount int
}

// RetryAfter returns the remaining lock duration at now
func (s LockStatus) RetryAfter(now time.Time) time.Duration {
	if !s.Locked || s.LockedUntil == nil {
		return 0
	}
	if d := s.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}
