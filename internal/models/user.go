package models

import (
	"time"
)

// User is the durable credential record of an account
type User struct {
	ID           string
	Email        string // Case-folded
	Username     *string
	PasswordHash string
	Role         string // e.g., "user", "admin"
	IsActive     bool

	EmailVerified bool

	MFAEnabled                bool
	MFASecret                 *string // Encrypted confirmed TOTP secret
	PendingMFASecret          *string // Encrypted secret awaiting confirmation
	PendingMFASecretExpiresAt *time.Time
	MFABackupCodesHashed      []string
	MFALastUsedStep           int64 // Highest TOTP time step accepted so far

	FailedLoginAttempts int
	LockedUntil         *time.Time // Temporary account lock expiration

	LastLoginAt *time.Time
	LastLoginIP *string

	CurrentSessionCount int
	// MaxConcurrentSessions overrides the configured session cap when positive
	MaxConcurrentSessions int

	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLocked reports whether the lockout window is still open at now
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// HasPendingMFA reports whether a non-expired pending secret exists at now
func (u *User) HasPendingMFA(now time.Time) bool {
	return u.PendingMFASecret != nil &&
		u.PendingMFASecretExpiresAt != nil &&
		now.Before(*u.PendingMFASecretExpiresAt)
}

// ClientInfo describes the client that issued a request
type ClientInfo struct {
	IPAddress string
	UserAgent string
}
