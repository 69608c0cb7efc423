package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// domainError pairs a sentinel with its protocol mapping
type domainError struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: the first matching sentinel wins
var domainErrors = []domainError{
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{models.ErrAccountInactive, http.StatusForbidden, "account_inactive", "account is inactive"},
	{models.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified", "email address has not been verified"},
	{models.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password does not meet strength requirements"},
	{models.ErrDuplicateEmail, http.StatusConflict, "duplicate_email", "email already registered"},
	{models.ErrDuplicateUsername, http.StatusConflict, "duplicate_username", "username already taken"},
	{models.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token has expired"},
	{models.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid", "token is invalid"},
	{models.ErrInvalidMFA, http.StatusUnauthorized, "invalid_mfa", "invalid MFA code"},
	{models.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled"},
	{models.ErrMFANotEnabled, http.StatusConflict, "mfa_not_enabled", "MFA is not enabled"},
	{models.ErrPendingMFAExpired, http.StatusBadRequest, "pending_mfa_expired", "no pending MFA enrollment or enrollment expired"},
	{models.ErrNotFound, http.StatusNotFound, "not_found", "resource not found"},
	{models.ErrConflict, http.StatusConflict, "conflict", "resource already exists"},
	{models.ErrBadRequest, http.StatusBadRequest, "bad_request", "bad request"},
	{models.ErrUnavailable, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"},
}

// WriteDomainError maps a service error onto a status code and error body.
// Unknown errors become a generic 500 so internals never leak.
func WriteDomainError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	if errors.As(err, &locked) {
		retryAfter := int(math.Ceil(time.Until(locked.Until).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		WriteErrorWithDetails(w, http.StatusLocked, "account_locked",
			"account is temporarily locked", "locked until "+locked.Until.UTC().Format(time.RFC3339))
		return
	}

	for _, de := range domainErrors {
		if errors.Is(err, de.target) {
			WriteError(w, de.status, de.code, de.message)
			return
		}
	}
	WriteInternalError(w, "internal server error")
}
