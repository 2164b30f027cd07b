package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
	// MaxPasswordLen is bcrypt's input limit in bytes
	MaxPasswordLen = 72
)

// ErrWeakPassword is matched by every PasswordValidationError
var ErrWeakPassword = errors.New("invalid password")

// PasswordValidationError lists every failed rule. Error() stays generic so
// callers can return it to clients without leaking the policy.
type PasswordValidationError struct {
	Failures []string
}

func (e *PasswordValidationError) Error() string { return ErrWeakPassword.Error() }

func (e *PasswordValidationError) Unwrap() error { return ErrWeakPassword }

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "password123!": {}, "passw0rd": {},
	"12345678": {}, "123456789": {}, "qwerty123": {}, "letmein1": {}, "welcome1": {},
	"iloveyou": {}, "sunshine": {}, "football": {}, "trustno1": {}, "starwars": {},
}

// HashPassword hashes password at BcryptCost
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLen {
		return "", fmt.Errorf("password longer than %d bytes: %w", MaxPasswordLen, ErrWeakPassword)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches hashedPassword
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// NeedsRehash reports whether hashedPassword was produced below BcryptCost
// or is not a bcrypt hash at all.
func NeedsRehash(hashedPassword string) bool {
	cost, err := bcrypt.Cost([]byte(hashedPassword))
	return err != nil || cost < BcryptCost
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// DummyCompare spends the same bcrypt work as a real comparison. It is used
// when the email is unknown so that path costs as much as a wrong password.
func DummyCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("loginguard-dummy-password"), BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePassword checks length, character classes and a short deny list
func ValidatePassword(password string) error {
	var failures []string

	if len(password) < MinPasswordLen {
		failures = append(failures, fmt.Sprintf("shorter than %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		failures = append(failures, fmt.Sprintf("longer than %d bytes", MaxPasswordLen))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	for rule, ok := range map[string]bool{
		"no uppercase letter":  upper,
		"no lowercase letter":  lower,
		"no digit":             digit,
		"no special character": special,
	} {
		if !ok {
			failures = append(failures, rule)
		}
	}

	if _, common := commonPasswords[strings.ToLower(password)]; common {
		failures = append(failures, "too common")
	}

	if len(failures) > 0 {
		return &PasswordValidationError{Failures: failures}
	}
	return nil
}
