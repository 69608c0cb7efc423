package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/session"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.User, error)
	CreateFunc             func(ctx context.Context, user *models.User) (*models.User, error)
	RecordFailedLoginFunc  func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error)
	ResetFailedLoginsFunc  func(ctx context.Context, id string) error
	RecordLoginFunc        func(ctx context.Context, id, ip string, at time.Time) error
	SetActiveFunc          func(ctx context.Context, id string, active bool) error
	UpdatePasswordFunc     func(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	UpdateSessionCountFunc func(ctx context.Context, id string, count int) error
	SetPendingMFAFunc      func(ctx context.Context, id, encryptedSecret string, expiresAt time.Time) error
	EnableMFAFunc          func(ctx context.Context, id, pendingSecret string, backupCodeHashes []string, step int64, now time.Time) error
	ClaimTOTPStepFunc      func(ctx context.Context, id string, step int64) (bool, error)
	DisableMFAFunc         func(ctx context.Context, id string) error
	ConsumeBackupCodeFunc  func(ctx context.Context, id, codeHash string) (bool, error)
	ReplaceBackupCodesFunc func(ctx context.Context, id string, backupCodeHashes []string) error
	DeleteFunc             func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

func (m *MockUserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	if m.RecordFailedLoginFunc != nil {
		return m.RecordFailedLoginFunc(ctx, id, threshold, lockFor, now)
	}
	return 1, nil, nil
}

func (m *MockUserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	if m.ResetFailedLoginsFunc != nil {
		return m.ResetFailedLoginsFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, ip, at)
	}
	return nil
}

func (m *MockUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, changedAt)
	}
	return nil
}

func (m *MockUserRepository) UpdateSessionCount(ctx context.Context, id string, count int) error {
	if m.UpdateSessionCountFunc != nil {
		return m.UpdateSessionCountFunc(ctx, id, count)
	}
	return nil
}

func (m *MockUserRepository) SetPendingMFA(ctx context.Context, id, encryptedSecret string, expiresAt time.Time) error {
	if m.SetPendingMFAFunc != nil {
		return m.SetPendingMFAFunc(ctx, id, encryptedSecret, expiresAt)
	}
	return nil
}

func (m *MockUserRepository) EnableMFA(ctx context.Context, id, pendingSecret string, backupCodeHashes []string, step int64, now time.Time) error {
	if m.EnableMFAFunc != nil {
		return m.EnableMFAFunc(ctx, id, pendingSecret, backupCodeHashes, step, now)
	}
	return nil
}

func (m *MockUserRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	if m.ClaimTOTPStepFunc != nil {
		return m.ClaimTOTPStepFunc(ctx, id, step)
	}
	return true, nil
}

func (m *MockUserRepository) DisableMFA(ctx context.Context, id string) error {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, id, codeHash)
	}
	return true, nil
}

func (m *MockUserRepository) ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, id, backupCodeHashes)
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockRefreshTokenRepository implements RefreshTokenRepository for testing
type MockRefreshTokenRepository struct {
	CreateFunc            func(ctx context.Context, rec *models.RefreshTokenRecord) error
	LookupActiveFunc      func(ctx context.Context, jti string) (*models.RefreshTokenRecord, error)
	RevokeFunc            func(ctx context.Context, rec *models.RefreshTokenRecord) error
	RevokeIfActiveFunc    func(ctx context.Context, jti string) (bool, error)
	RevokeAllForUserFunc  func(ctx context.Context, userID, exceptJTI string) (int64, error)
	ListActiveForUserFunc func(ctx context.Context, userID string) ([]*models.RefreshTokenRecord, error)
	CleanupExpiredFunc    func(ctx context.Context) (int64, error)
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, rec *models.RefreshTokenRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	return nil
}

func (m *MockRefreshTokenRepository) LookupActive(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	if m.LookupActiveFunc != nil {
		return m.LookupActiveFunc(ctx, jti)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, rec *models.RefreshTokenRecord) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, rec)
	}
	return nil
}

func (m *MockRefreshTokenRepository) RevokeIfActive(ctx context.Context, jti string) (bool, error) {
	if m.RevokeIfActiveFunc != nil {
		return m.RevokeIfActiveFunc(ctx, jti)
	}
	return true, nil
}

func (m *MockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, exceptJTI string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID, exceptJTI)
	}
	return 0, nil
}

func (m *MockRefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshTokenRecord, error) {
	if m.ListActiveForUserFunc != nil {
		return m.ListActiveForUserFunc(ctx, userID)
	}
	return []*models.RefreshTokenRecord{}, nil
}

func (m *MockRefreshTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx)
	}
	return 0, nil
}

// MockSessionRegistry implements SessionRegistry for testing
type MockSessionRegistry struct {
	CreateSessionFunc          func(ctx context.Context, p session.CreateParams) (*models.Session, error)
	GetSessionFunc             func(ctx context.Context, id string) (*models.Session, error)
	GetSessionByRefreshJTIFunc func(ctx context.Context, jti string) (*models.Session, error)
	UpdateActivityFunc         func(ctx context.Context, id string, client models.ClientInfo) error
	RevokeSessionFunc          func(ctx context.Context, id string) error
	RevokeAllForUserFunc       func(ctx context.Context, userID, exceptSessionID string) (int, error)
	ListActiveSessionsFunc     func(ctx context.Context, userID string) ([]models.SessionSummary, error)
	CountActiveFunc            func(ctx context.Context, userID string) (int, error)
	RotateRefreshJTIFunc       func(ctx context.Context, sessionID, oldJTI, newJTI string) error
	ValidateSecurityFunc       func(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error)
}

func (m *MockSessionRegistry) CreateSession(ctx context.Context, p session.CreateParams) (*models.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, p)
	}
	return &models.Session{SessionID: "session-1", UserID: p.UserID, RefreshJTI: p.RefreshJTI}, nil
}

func (m *MockSessionRegistry) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRegistry) GetSessionByRefreshJTI(ctx context.Context, jti string) (*models.Session, error) {
	if m.GetSessionByRefreshJTIFunc != nil {
		return m.GetSessionByRefreshJTIFunc(ctx, jti)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRegistry) UpdateActivity(ctx context.Context, id string, client models.ClientInfo) error {
	if m.UpdateActivityFunc != nil {
		return m.UpdateActivityFunc(ctx, id, client)
	}
	return nil
}

func (m *MockSessionRegistry) RevokeSession(ctx context.Context, id string) error {
	if m.RevokeSessionFunc != nil {
		return m.RevokeSessionFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionRegistry) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID, exceptSessionID)
	}
	return 0, nil
}

func (m *MockSessionRegistry) ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if m.ListActiveSessionsFunc != nil {
		return m.ListActiveSessionsFunc(ctx, userID)
	}
	return []models.SessionSummary{}, nil
}

func (m *MockSessionRegistry) CountActive(ctx context.Context, userID string) (int, error) {
	if m.CountActiveFunc != nil {
		return m.CountActiveFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockSessionRegistry) RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string) error {
	if m.RotateRefreshJTIFunc != nil {
		return m.RotateRefreshJTIFunc(ctx, sessionID, oldJTI, newJTI)
	}
	return nil
}

func (m *MockSessionRegistry) ValidateSecurity(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
	if m.ValidateSecurityFunc != nil {
		return m.ValidateSecurityFunc(ctx, id, ip, userAgent)
	}
	return models.SecurityCheck{Valid: true}, nil
}

// MockActionTokenRepository implements ActionTokenRepository for testing
type MockActionTokenRepository struct {
	CreateFunc                  func(ctx context.Context, userID, purpose, tokenHash, email string, expiresAt time.Time) (*models.ActionToken, error)
	GetByTokenHashFunc          func(ctx context.Context, purpose, tokenHash string) (*models.ActionToken, error)
	RedeemPasswordResetFunc     func(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) (int64, error)
	RedeemEmailVerificationFunc func(ctx context.Context, tokenID, userID, email string) error
	CleanupExpiredFunc          func(ctx context.Context) (int64, error)
}

func (m *MockActionTokenRepository) Create(ctx context.Context, userID, purpose, tokenHash, email string, expiresAt time.Time) (*models.ActionToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, purpose, tokenHash, email, expiresAt)
	}
	return &models.ActionToken{ID: "token_123", UserID: userID, Purpose: purpose, TokenHash: tokenHash, Email: email, ExpiresAt: expiresAt}, nil
}

func (m *MockActionTokenRepository) GetByTokenHash(ctx context.Context, purpose, tokenHash string) (*models.ActionToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, purpose, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockActionTokenRepository) RedeemPasswordReset(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) (int64, error) {
	if m.RedeemPasswordResetFunc != nil {
		return m.RedeemPasswordResetFunc(ctx, tokenID, userID, passwordHash, changedAt)
	}
	return 0, nil
}

func (m *MockActionTokenRepository) RedeemEmailVerification(ctx context.Context, tokenID, userID, email string) error {
	if m.RedeemEmailVerificationFunc != nil {
		return m.RedeemEmailVerificationFunc(ctx, tokenID, userID, email)
	}
	return nil
}

func (m *MockActionTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx)
	}
	return 0, nil
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	SendEmailVerificationFunc func(ctx context.Context, email, link string, expiresAt time.Time) error
	SendPasswordResetFunc     func(ctx context.Context, email, link string, expiresAt time.Time) error
}

func (m *MockNotifier) SendEmailVerification(ctx context.Context, email, link string, expiresAt time.Time) error {
	if m.SendEmailVerificationFunc != nil {
		return m.SendEmailVerificationFunc(ctx, email, link, expiresAt)
	}
	return nil
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	if m.SendPasswordResetFunc != nil {
		return m.SendPasswordResetFunc(ctx, email, link, expiresAt)
	}
	return nil
}

// MockAuditLogReader implements AuditLogReader for testing
type MockAuditLogReader struct {
	ListByUserFunc func(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
}

func (m *MockAuditLogReader) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit)
	}
	return []*models.AuditLog{}, nil
}

// Test fixtures

const testPassword = "SecurePassword123!"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(discardLogger())
}

func NewTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(2, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

// NewTestUser returns an active verified user whose password is testPassword
func NewTestUser(t *testing.T, id, email string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now()
	return &models.User{
		ID:                   id,
		Email:                email,
		PasswordHash:         string(hash),
		Role:                 "user",
		IsActive:             true,
		EmailVerified:        true,
		MFABackupCodesHashed: []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func NewTestTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "test-access-secret-that-is-long-enough-0123456789",
		RefreshSecret: "test-refresh-secret-that-is-long-enough-987654321",
		Issuer:        "lineage-auth",
		Audience:      "lineage",
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return tm
}

func NewTestTOTPManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	tm, err := auth.NewTOTPManager(key, "Lineage")
	if err != nil {
		t.Fatalf("totp manager: %v", err)
	}
	return tm
}

// withTOTP enables MFA on user with a fresh secret and returns the plaintext secret
func withTOTP(t *testing.T, totpMgr *auth.TOTPManager, user *models.User) string {
	t.Helper()
	enrollment, err := totpMgr.GenerateEnrollment(user.Email)
	if err != nil {
		t.Fatalf("enrollment: %v", err)
	}
	encrypted, err := totpMgr.EncryptSecret(enrollment.Secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	user.MFAEnabled = true
	user.MFASecret = &encrypted
	return enrollment.Secret
}

// testDeps bundles the collaborators of the services under test
type testDeps struct {
	users    *MockUserRepository
	refresh  *MockRefreshTokenRepository
	sessions *MockSessionRegistry
	tokens   *MockActionTokenRepository
	notifier *MockNotifier
	tm       *auth.TokenManager
	totp     *auth.TOTPManager
	hasher   *Hasher
	lockout  *LockoutPolicy
	mfa      *MFAService
	audits   *MockAuditLogReader
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	d := &testDeps{
		users:    &MockUserRepository{},
		refresh:  &MockRefreshTokenRepository{},
		sessions: &MockSessionRegistry{},
		tokens:   &MockActionTokenRepository{},
		notifier: &MockNotifier{},
		tm:       NewTestTokenManager(t),
		totp:     NewTestTOTPManager(t),
		hasher:   NewTestHasher(t),
		audits:   &MockAuditLogReader{},
	}
	d.lockout = NewLockoutPolicy(d.users, 5, 15*time.Minute, discardLogger(), testAuditLogger())
	d.mfa = NewMFAService(d.users, d.totp, d.hasher, d.lockout, MFAConfig{BackupCodeCount: 5, PendingTTL: 10 * time.Minute}, discardLogger(), testAuditLogger())
	return d
}

func (d *testDeps) authService(opts AuthOptions) *AuthService {
	return NewAuthService(d.users, d.refresh, d.sessions, d.tm, d.hasher, d.lockout, d.mfa, opts, discardLogger(), testAuditLogger())
}

func (d *testDeps) accountService() *AccountService {
	return NewAccountService(d.users, d.refresh, d.sessions, d.tokens, d.notifier, d.hasher, d.lockout, d.tm, AccountConfig{
		AppBaseURL:           "https://lineage.example",
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
	}, discardLogger(), testAuditLogger())
}

func (d *testDeps) adminService() *AdminService {
	return NewAdminService(d.users, d.refresh, d.sessions, d.audits, d.lockout, discardLogger(), testAuditLogger())
}
