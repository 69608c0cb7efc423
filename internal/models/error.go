package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// ErrUnavailable signals that a backing store could not be reached
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Credential and account state errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrWeakPassword       = errors.New("password does not meet strength requirements")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicateUsername  = errors.New("username already taken")

	// Token errors
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")

	// MFA errors
	ErrInvalidMFA        = errors.New("invalid MFA code")
	ErrMFAAlreadyEnabled = errors.New("MFA is already enabled")
	ErrMFANotEnabled     = errors.New("MFA is not enabled")
	ErrPendingMFAExpired = errors.New("no pending MFA enrollment or enrollment expired")
)

// AccountLockedError carries the end of the lockout window.
// errors.Is(err, ErrAccountLocked) matches it.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.Until.UTC().Format(time.RFC3339))
}

// Is reports whether target is ErrAccountLocked
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
