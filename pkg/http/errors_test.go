package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"abc"}`, w.Body.String())
}

func TestWriteDomainError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{models.ErrAccountInactive, http.StatusForbidden, "account_inactive"},
		{models.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified"},
		{models.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
		{models.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
		{models.ErrDuplicateUsername, http.StatusConflict, "duplicate_username"},
		{models.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{models.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid"},
		{models.ErrInvalidMFA, http.StatusUnauthorized, "invalid_mfa"},
		{models.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa_already_enabled"},
		{models.ErrMFANotEnabled, http.StatusConflict, "mfa_not_enabled"},
		{models.ErrPendingMFAExpired, http.StatusBadRequest, "pending_mfa_expired"},
		{models.ErrNotFound, http.StatusNotFound, "not_found"},
		{models.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{fmt.Errorf("wrapped: %w", models.ErrTokenInvalid), http.StatusUnauthorized, "token_invalid"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteDomainError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestWriteDomainError_AccountLocked(t *testing.T) {
	w := httptest.NewRecorder()
	until := time.Now().Add(15 * time.Minute)

	pkghttp.WriteDomainError(w, fmt.Errorf("login: %w", &models.AccountLockedError{Until: until}))

	assert.Equal(t, http.StatusLocked, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "account_locked", resp.Error)
	assert.Contains(t, resp.Details, until.UTC().Format(time.RFC3339))

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 900, retryAfter, 2)
}

func TestWriteDomainError_UnknownErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteDomainError(w, errors.New("pq: relation users does not exist"))

	assert.NotContains(t, w.Body.String(), "relation")
}
