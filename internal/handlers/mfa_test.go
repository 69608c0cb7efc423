package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/lineage-auth/internal/handlers"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Enrollment Tests
// ============================================================================

func TestBeginEnrollment_NoStore(t *testing.T) {
	h := handlers.NewMFAHandler(&handlers.MockMFAService{}, nil, discardLogger())

	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/auth/mfa/enroll", nil), "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.BeginEnrollment(w, req)

	var enrollment models.MFAEnrollment
	handlers.AssertJSONResponse(t, w, 200, &enrollment)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", enrollment.Secret)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestBeginEnrollment_AlreadyEnabled(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		BeginEnrollmentFunc: func(ctx context.Context, userID string) (*models.MFAEnrollment, error) {
			return nil, models.ErrMFAAlreadyEnabled
		},
	}
	h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/auth/mfa/enroll", nil), "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.BeginEnrollment(w, req)

	handlers.AssertErrorResponse(t, w, 409, "mfa_already_enabled")
}

func TestConfirmEnrollment(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		err        error
		wantStatus int
	}{
		{name: "success", code: "123456", wantStatus: 200},
		{name: "non-numeric code", code: "12345a", wantStatus: 400},
		{name: "short code", code: "12345", wantStatus: 400},
		{name: "wrong code", code: "654321", err: models.ErrInvalidMFA, wantStatus: 401},
		{name: "expired enrollment", code: "123456", err: models.ErrPendingMFAExpired, wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMFA := &handlers.MockMFAService{
				ConfirmEnrollmentFunc: func(ctx context.Context, userID, code string) ([]string, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return []string{"ABCD2345", "EFGH6789"}, nil
				},
			}
			h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

			req := handlers.NewTestRequest(t, "POST", "/auth/mfa/confirm", handlers.MFACodeRequest{Code: tt.code})
			req = handlers.WithAuthContext(req, "user_123", "user@example.com", "")
			w := httptest.NewRecorder()
			h.ConfirmEnrollment(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == 200 {
				var resp handlers.BackupCodesResponse
				handlers.AssertJSONResponse(t, w, 200, &resp)
				assert.Len(t, resp.BackupCodes, 2)
				assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			}
		})
	}
}

// ============================================================================
// Management Tests
// ============================================================================

func TestDisable(t *testing.T) {
	var proof, ip string
	mockMFA := &handlers.MockMFAService{
		DisableFunc: func(ctx context.Context, userID, p string, client models.ClientInfo) error {
			proof = p
			ip = client.IPAddress
			return nil
		},
	}
	h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/disable", handlers.DisableMFARequest{Proof: "abcd-2345"})
	req = handlers.WithAuthContext(req, "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.Disable(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "abcd-2345", proof)
	assert.NotEmpty(t, ip)
}

func TestDisable_WrongProof(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		DisableFunc: func(ctx context.Context, userID, p string, client models.ClientInfo) error {
			return models.ErrInvalidMFA
		},
	}
	h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/disable", handlers.DisableMFARequest{Proof: "guess"})
	req = handlers.WithAuthContext(req, "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 401, "invalid_mfa")
}

func TestStatus(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		StatusFunc: func(ctx context.Context, userID string) (*models.MFAStatus, error) {
			return &models.MFAStatus{MFAEnabled: true, BackupCodesRemaining: 7}, nil
		},
	}
	h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

	req := handlers.WithAuthContext(httptest.NewRequest("GET", "/auth/mfa/status", nil), "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.Status(w, req)

	var status models.MFAStatus
	handlers.AssertJSONResponse(t, w, 200, &status)
	assert.True(t, status.MFAEnabled)
	assert.Equal(t, 7, status.BackupCodesRemaining)
}

func TestStatus_Unauthenticated(t *testing.T) {
	h := handlers.NewMFAHandler(&handlers.MockMFAService{}, nil, discardLogger())

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest("GET", "/auth/mfa/status", nil))

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestRegenerateBackupCodes(t *testing.T) {
	var code string
	mockMFA := &handlers.MockMFAService{
		RegenerateBackupCodesFunc: func(ctx context.Context, userID, c string) ([]string, error) {
			code = c
			return []string{"NEWC0DE1"}, nil
		},
	}
	h := handlers.NewMFAHandler(mockMFA, nil, discardLogger())

	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/backup-codes", handlers.MFACodeRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, "user_123", "user@example.com", "")
	w := httptest.NewRecorder()
	h.RegenerateBackupCodes(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, []string{"NEWC0DE1"}, resp.BackupCodes)
	assert.Equal(t, "123456", code)
}
