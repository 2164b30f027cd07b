package models

import (
	"time"
)

// User is the credential-store view of an account
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmailVerified reports whether the account confirmed its address
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// UserSummary is the user view handed back on successful login
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
