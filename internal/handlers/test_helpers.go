package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/services"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email, sessionID string) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), &models.AccessClaims{
		UserID:    userID,
		Email:     email,
		Role:      "user",
		SessionID: sessionID,
	}))
}

// WithAdminContext adds admin user claims to request context
func WithAdminContext(req *http.Request, userID, email string) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), &models.AccessClaims{
		UserID: userID,
		Email:  email,
		Role:   "admin",
	}))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// ResponseCookies indexes the cookies set on a recorded response
func ResponseCookies(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// MockAuthService implements AuthService for testing
type MockAuthService struct {
	LoginFunc             func(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error)
	RefreshFunc           func(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.LoginResponse, error)
	LogoutFunc            func(ctx context.Context, refreshToken string) error
	LogoutAllFunc         func(ctx context.Context, userID string) error
	ListSessionsFunc      func(ctx context.Context, userID string) ([]models.SessionSummary, error)
	RevokeUserSessionFunc func(ctx context.Context, userID, sessionID string) error
	RegisterFunc          func(ctx context.Context, req services.RegisterRequest) (*services.UserResponse, error)
	GetCurrentUserFunc    func(ctx context.Context, userID string) (*services.UserResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.LoginResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, client)
	}
	return nil, models.ErrTokenInvalid
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, refreshToken)
	}
	return nil
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, userID)
	}
	return nil
}

func (m *MockAuthService) ListSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, userID)
	}
	return []models.SessionSummary{}, nil
}

func (m *MockAuthService) RevokeUserSession(ctx context.Context, userID, sessionID string) error {
	if m.RevokeUserSessionFunc != nil {
		return m.RevokeUserSessionFunc(ctx, userID, sessionID)
	}
	return nil
}

func (m *MockAuthService) Register(ctx context.Context, req services.RegisterRequest) (*services.UserResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, req)
	}
	return &services.UserResponse{ID: "user_new", Email: req.Email, Role: "user", IsActive: true}, nil
}

func (m *MockAuthService) GetCurrentUser(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetCurrentUserFunc != nil {
		return m.GetCurrentUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

// MockAccountService implements AccountService for testing
type MockAccountService struct {
	ChangePasswordFunc           func(ctx context.Context, req services.ChangePasswordRequest) error
	RequestPasswordResetFunc     func(ctx context.Context, email string) error
	ConfirmPasswordResetFunc     func(ctx context.Context, plainToken, newPassword string) error
	RequestEmailVerificationFunc func(ctx context.Context, userID string) error
	ResendEmailVerificationFunc  func(ctx context.Context, email string) error
	ConfirmEmailVerificationFunc func(ctx context.Context, plainToken string) error
}

func (m *MockAccountService) ChangePassword(ctx context.Context, req services.ChangePasswordRequest) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, req)
	}
	return nil
}

func (m *MockAccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ConfirmPasswordReset(ctx context.Context, plainToken, newPassword string) error {
	if m.ConfirmPasswordResetFunc != nil {
		return m.ConfirmPasswordResetFunc(ctx, plainToken, newPassword)
	}
	return nil
}

func (m *MockAccountService) RequestEmailVerification(ctx context.Context, userID string) error {
	if m.RequestEmailVerificationFunc != nil {
		return m.RequestEmailVerificationFunc(ctx, userID)
	}
	return nil
}

func (m *MockAccountService) ResendEmailVerification(ctx context.Context, email string) error {
	if m.ResendEmailVerificationFunc != nil {
		return m.ResendEmailVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ConfirmEmailVerification(ctx context.Context, plainToken string) error {
	if m.ConfirmEmailVerificationFunc != nil {
		return m.ConfirmEmailVerificationFunc(ctx, plainToken)
	}
	return nil
}

// MockMFAService implements MFAService for testing
type MockMFAService struct {
	BeginEnrollmentFunc       func(ctx context.Context, userID string) (*models.MFAEnrollment, error)
	ConfirmEnrollmentFunc     func(ctx context.Context, userID, code string) ([]string, error)
	DisableFunc               func(ctx context.Context, userID, proof string, client models.ClientInfo) error
	StatusFunc                func(ctx context.Context, userID string) (*models.MFAStatus, error)
	RegenerateBackupCodesFunc func(ctx context.Context, userID, code string) ([]string, error)
}

func (m *MockMFAService) BeginEnrollment(ctx context.Context, userID string) (*models.MFAEnrollment, error) {
	if m.BeginEnrollmentFunc != nil {
		return m.BeginEnrollmentFunc(ctx, userID)
	}
	return &models.MFAEnrollment{Secret: "JBSWY3DPEHPK3PXP", ExpiresInSecs: 600}, nil
}

func (m *MockMFAService) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	if m.ConfirmEnrollmentFunc != nil {
		return m.ConfirmEnrollmentFunc(ctx, userID, code)
	}
	return []string{"ABCD2345"}, nil
}

func (m *MockMFAService) Disable(ctx context.Context, userID, proof string, client models.ClientInfo) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID, proof, client)
	}
	return nil
}

func (m *MockMFAService) Status(ctx context.Context, userID string) (*models.MFAStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, userID)
	}
	return &models.MFAStatus{}, nil
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, userID, code)
	}
	return []string{"ABCD2345"}, nil
}

// MockAdminService implements AdminService for testing
type MockAdminService struct {
	GetUserFunc          func(ctx context.Context, userID string) (*services.UserResponse, error)
	DeleteUserFunc       func(ctx context.Context, actorID, userID string) error
	UnlockUserFunc       func(ctx context.Context, actorID, userID string) error
	SetUserActiveFunc    func(ctx context.Context, actorID, userID string, active bool) error
	ListUserSessionsFunc func(ctx context.Context, userID string) ([]models.SessionSummary, error)

	ListUserAuditLogsFunc func(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
}

func (m *MockAdminService) GetUser(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAdminService) DeleteUser(ctx context.Context, actorID, userID string) error {
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, actorID, userID)
	}
	return nil
}

func (m *MockAdminService) UnlockUser(ctx context.Context, actorID, userID string) error {
	if m.UnlockUserFunc != nil {
		return m.UnlockUserFunc(ctx, actorID, userID)
	}
	return nil
}

func (m *MockAdminService) SetUserActive(ctx context.Context, actorID, userID string, active bool) error {
	if m.SetUserActiveFunc != nil {
		return m.SetUserActiveFunc(ctx, actorID, userID, active)
	}
	return nil
}

func (m *MockAdminService) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if m.ListUserSessionsFunc != nil {
		return m.ListUserSessionsFunc(ctx, userID)
	}
	return []models.SessionSummary{}, nil
}

func (m *MockAdminService) ListUserAuditLogs(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	if m.ListUserAuditLogsFunc != nil {
		return m.ListUserAuditLogsFunc(ctx, userID, limit)
	}
	return []*models.AuditLog{}, nil
}
