package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/session"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClient = models.ClientInfo{IPAddress: "203.0.113.10", UserAgent: "test-agent/1.0"}

func userByEmail(user *models.User) func(ctx context.Context, email string) (*models.User, error) {
	return func(ctx context.Context, email string) (*models.User, error) {
		if email == user.Email {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
}

func userByID(user *models.User) func(ctx context.Context, id string) (*models.User, error) {
	return func(ctx context.Context, id string) (*models.User, error) {
		if id == user.ID {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
}

// captureAudit redirects the service's audit records into the returned buffer
func captureAudit(s *AuthService) *bytes.Buffer {
	buf := &bytes.Buffer{}
	s.auditLogger = pkglogger.NewAuditLogger(slog.New(slog.NewJSONHandler(buf, nil)))
	return buf
}

// ============================================================================
// Login Tests
// ============================================================================

func TestAuthService_Login_Success(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)

	var stored *models.RefreshTokenRecord
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		stored = rec
		return nil
	}
	var params session.CreateParams
	d.sessions.CreateSessionFunc = func(ctx context.Context, p session.CreateParams) (*models.Session, error) {
		params = p
		return &models.Session{SessionID: "session-1", UserID: p.UserID, RefreshJTI: p.RefreshJTI}, nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{
		Email:    "  Test@Example.com ",
		Password: testPassword,
		Client:   testClient,
	})
	service.Drain()

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.RequireMFA)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 1800, resp.ExpiresIn)
	assert.Equal(t, 7*24*3600, resp.RefreshExpiresIn)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, "user_123", resp.User.ID)

	access, err := d.tm.DecodeAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "session-1", access.SessionID)
	assert.Equal(t, "user", access.Role)

	refresh, err := d.tm.DecodeRefresh(resp.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, refresh.JTI(), stored.TokenJTI)
	assert.Equal(t, refresh.JTI(), params.RefreshJTI)
	require.NotNil(t, stored.SessionID)
	assert.Equal(t, "session-1", *stored.SessionID)
	assert.Equal(t, testClient.IPAddress, stored.IPAddress)
	assert.Zero(t, params.MaxSessions, "no per-user override defers to the configured cap")
	assert.False(t, params.MFAVerified)
}

func TestAuthService_Login_PerUserSessionCapOverride(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	user.MaxConcurrentSessions = 3
	d.users.GetByEmailFunc = userByEmail(user)

	var params session.CreateParams
	d.sessions.CreateSessionFunc = func(ctx context.Context, p session.CreateParams) (*models.Session, error) {
		params = p
		return &models.Session{SessionID: "session-1"}, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})
	service.Drain()

	require.NoError(t, err)
	assert.Equal(t, 3, params.MaxSessions)
}

func TestAuthService_Login_UnknownUser(t *testing.T) {
	d := newTestDeps(t)
	failures := 0
	d.users.RecordFailedLoginFunc = func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
		failures++
		return failures, nil, nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: testPassword})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Zero(t, failures)
}

func TestAuthService_Login_WrongPasswordRecordsFailure(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)

	var gotThreshold int
	var gotLockFor time.Duration
	d.users.RecordFailedLoginFunc = func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
		gotThreshold = threshold
		gotLockFor = lockFor
		return 1, nil, nil
	}
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		t.Fatal("no refresh token may be stored on a failed login")
		return nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: "WrongPassword1!"})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, 5, gotThreshold)
	assert.Equal(t, 15*time.Minute, gotLockFor)
}

func TestAuthService_Login_LockedAccountRejectsCorrectPassword(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	until := time.Now().Add(10 * time.Minute)
	user.LockedUntil = &until
	d.users.GetByEmailFunc = userByEmail(user)

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})

	require.ErrorIs(t, err, models.ErrAccountLocked)
	var locked *models.AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.True(t, locked.Until.Equal(until))
}

func TestAuthService_Login_LocksAfterThresholdFailures(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)

	// Mirrors the atomic counter-and-lock UPDATE of the store
	attempts := 0
	d.users.RecordFailedLoginFunc = func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
		attempts++
		if attempts >= threshold {
			until := now.Add(lockFor)
			user.LockedUntil = &until
		}
		user.FailedLoginAttempts = attempts
		return attempts, user.LockedUntil, nil
	}
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		t.Fatal("a locked account must not receive tokens")
		return nil
	}

	service := d.authService(AuthOptions{})
	for i := 0; i < 5; i++ {
		_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: "WrongPassword1!"})
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i+1)
	}
	require.NotNil(t, user.LockedUntil)

	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})

	var locked *models.AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), locked.Until, 5*time.Second)
	assert.Equal(t, 5, attempts, "attempts while locked are not counted")
}

func TestAuthService_Login_ExpiredLockAllowsLogin(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	past := time.Now().Add(-time.Minute)
	user.LockedUntil = &past
	user.FailedLoginAttempts = 5
	d.users.GetByEmailFunc = userByEmail(user)

	reset := false
	d.users.ResetFailedLoginsFunc = func(ctx context.Context, id string) error {
		reset = true
		return nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})
	service.Drain()

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, reset)
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	user.IsActive = false
	d.users.GetByEmailFunc = userByEmail(user)

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})

	assert.ErrorIs(t, err, models.ErrAccountInactive)
}

func TestAuthService_Login_EmailVerificationGate(t *testing.T) {
	tests := []struct {
		name    string
		require bool
		wantErr error
	}{
		{name: "gate enabled", require: true, wantErr: models.ErrEmailNotVerified},
		{name: "gate disabled", require: false, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(t)
			user := NewTestUser(t, "user_123", "test@example.com")
			user.EmailVerified = false
			d.users.GetByEmailFunc = userByEmail(user)

			service := d.authService(AuthOptions{RequireEmailVerification: tt.require})
			_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})
			service.Drain()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ============================================================================
// Login MFA Tests
// ============================================================================

func TestAuthService_Login_MFARequired(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	withTOTP(t, d.totp, user)
	d.users.GetByEmailFunc = userByEmail(user)
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		t.Fatal("no refresh token may be stored before the second factor")
		return nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})

	require.NoError(t, err)
	assert.True(t, resp.RequireMFA)
	assert.Empty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
	assert.Nil(t, resp.User)
}

func TestAuthService_Login_MFAValidCode(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	secret := withTOTP(t, d.totp, user)
	d.users.GetByEmailFunc = userByEmail(user)

	var params session.CreateParams
	d.sessions.CreateSessionFunc = func(ctx context.Context, p session.CreateParams) (*models.Session, error) {
		params = p
		return &models.Session{SessionID: "session-1"}, nil
	}

	code, err := d.totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword, MFACode: code})
	service.Drain()

	require.NoError(t, err)
	assert.False(t, resp.RequireMFA)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, params.MFAVerified)
}

func TestAuthService_Login_MFAInvalidCodeCountsAsFailure(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	withTOTP(t, d.totp, user)
	d.users.GetByEmailFunc = userByEmail(user)

	failures := 0
	d.users.RecordFailedLoginFunc = func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
		failures++
		return failures, nil, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword, MFACode: "000000"})

	assert.ErrorIs(t, err, models.ErrInvalidMFA)
	assert.Equal(t, 1, failures)
}

func TestAuthService_Login_MFACodeReplayRejected(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	secret := withTOTP(t, d.totp, user)

	// Each login reads a fresh row carrying the last claimed step
	var lastStep int64
	d.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		fresh := *user
		fresh.MFALastUsedStep = lastStep
		return &fresh, nil
	}
	d.users.ClaimTOTPStepFunc = func(ctx context.Context, id string, step int64) (bool, error) {
		if step <= lastStep {
			return false, nil
		}
		lastStep = step
		return true, nil
	}
	failures := 0
	d.users.RecordFailedLoginFunc = func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
		failures++
		return failures, nil, nil
	}

	code, err := d.totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	login := LoginRequest{Email: user.Email, Password: testPassword, MFACode: code}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), login)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	_, err = service.Login(context.Background(), login)
	service.Drain()

	assert.ErrorIs(t, err, models.ErrInvalidMFA)
	assert.Equal(t, 1, failures)
}

func TestAuthService_Login_MFALostClaimRaceRejected(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	secret := withTOTP(t, d.totp, user)
	d.users.GetByEmailFunc = userByEmail(user)
	d.users.ClaimTOTPStepFunc = func(ctx context.Context, id string, step int64) (bool, error) {
		// a concurrent login claimed the step between read and claim
		return false, nil
	}
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		t.Fatal("the losing login must not receive tokens")
		return nil
	}

	code, err := d.totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	service := d.authService(AuthOptions{})
	_, err = service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword, MFACode: code})

	assert.ErrorIs(t, err, models.ErrInvalidMFA)
}

func TestAuthService_Login_MFABackupCode(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	withTOTP(t, d.totp, user)

	hash, err := d.hasher.Hash(context.Background(), "ABCD2345")
	require.NoError(t, err)
	other, err := d.hasher.Hash(context.Background(), "WXYZ6789")
	require.NoError(t, err)
	user.MFABackupCodesHashed = []string{other, hash}
	d.users.GetByEmailFunc = userByEmail(user)

	var consumed string
	d.users.ConsumeBackupCodeFunc = func(ctx context.Context, id, codeHash string) (bool, error) {
		consumed = codeHash
		return true, nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword, MFACode: "abcd-2345"})
	service.Drain()

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, hash, consumed)
}

func TestAuthService_Login_MFABackupCodeAlreadyConsumed(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	withTOTP(t, d.totp, user)

	hash, err := d.hasher.Hash(context.Background(), "ABCD2345")
	require.NoError(t, err)
	user.MFABackupCodesHashed = []string{hash}
	d.users.GetByEmailFunc = userByEmail(user)
	d.users.ConsumeBackupCodeFunc = func(ctx context.Context, id, codeHash string) (bool, error) {
		return false, nil
	}

	service := d.authService(AuthOptions{})
	_, err = service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword, MFACode: "ABCD2345"})

	assert.ErrorIs(t, err, models.ErrInvalidMFA)
}

// ============================================================================
// Session Issuance Tests
// ============================================================================

func TestAuthService_Login_SessionStoreDownIsNotFatal(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)
	d.sessions.CreateSessionFunc = func(ctx context.Context, p session.CreateParams) (*models.Session, error) {
		return nil, models.ErrUnavailable
	}

	var stored *models.RefreshTokenRecord
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		stored = rec
		return nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})
	service.Drain()

	require.NoError(t, err)
	assert.Empty(t, resp.SessionID)
	require.NotNil(t, stored)
	assert.Nil(t, stored.SessionID)

	access, err := d.tm.DecodeAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, access.SessionID)
}

func TestAuthService_Login_RefreshPersistFailureDropsSession(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		return models.ErrUnavailable
	}

	var dropped string
	d.sessions.RevokeSessionFunc = func(ctx context.Context, id string) error {
		dropped = id
		return nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrUnavailable)
	assert.Equal(t, "session-1", dropped)
}

func TestAuthService_Login_SyncsSessionCount(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByEmailFunc = userByEmail(user)
	d.sessions.CountActiveFunc = func(ctx context.Context, userID string) (int, error) {
		return 3, nil
	}

	var synced atomic.Int64
	d.users.UpdateSessionCountFunc = func(ctx context.Context, id string, count int) error {
		synced.Store(int64(count))
		return nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Login(context.Background(), LoginRequest{Email: user.Email, Password: testPassword})
	require.NoError(t, err)
	service.Drain()

	assert.Equal(t, int64(3), synced.Load())
}

// ============================================================================
// Refresh Tests
// ============================================================================

func refreshFixture(t *testing.T, d *testDeps, user *models.User, sessionID string) string {
	t.Helper()
	token, err := d.tm.IssueRefreshToken(user.ID, "jti-1", sessionID, d.tm.RefreshTTL())
	require.NoError(t, err)

	d.users.GetByIDFunc = userByID(user)
	d.refresh.LookupActiveFunc = func(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
		if jti != "jti-1" {
			return nil, models.ErrNotFound
		}
		rec := &models.RefreshTokenRecord{
			ID:        "rec-1",
			UserID:    user.ID,
			TokenJTI:  "jti-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		if sessionID != "" {
			rec.SessionID = &sessionID
		}
		return rec, nil
	}
	return token
}

func TestAuthService_Refresh_WithoutRotation(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")

	var touched string
	d.sessions.UpdateActivityFunc = func(ctx context.Context, id string, client models.ClientInfo) error {
		touched = id
		return nil
	}
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		t.Fatal("refresh without rotation must not revoke")
		return false, nil
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
	assert.Equal(t, token, resp.RefreshToken)
	assert.Equal(t, "session-1", touched)
	assert.InDelta(t, 3600, resp.RefreshExpiresIn, 5)

	access, err := d.tm.DecodeAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "session-1", access.SessionID)
}

func TestAuthService_Refresh_WithRotation(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")

	var revoked string
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		revoked = jti
		return true, nil
	}
	var stored *models.RefreshTokenRecord
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		stored = rec
		return nil
	}
	var rotatedFrom, rotatedTo string
	d.sessions.RotateRefreshJTIFunc = func(ctx context.Context, sessionID, oldJTI, newJTI string) error {
		rotatedFrom, rotatedTo = oldJTI, newJTI
		return nil
	}

	service := d.authService(AuthOptions{RotateRefreshTokens: true})
	resp, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
	assert.NotEqual(t, token, resp.RefreshToken)
	assert.Equal(t, "jti-1", revoked)

	claims, err := d.tm.DecodeRefresh(resp.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, claims.JTI(), stored.TokenJTI)
	assert.Equal(t, "session-1", claims.SessionID)
	require.NotNil(t, stored.SessionID)
	assert.Equal(t, "session-1", *stored.SessionID)
	assert.Equal(t, "jti-1", rotatedFrom)
	assert.Equal(t, claims.JTI(), rotatedTo)
}

func TestAuthService_Refresh_RotationReuseRejected(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		return false, nil
	}
	d.refresh.CreateFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		t.Fatal("a lost rotation race must not mint a token")
		return nil
	}

	service := d.authService(AuthOptions{RotateRefreshTokens: true})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestAuthService_Refresh_RevokedRecord(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.refresh.LookupActiveFunc = func(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
		return nil, models.ErrNotFound
	}

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestAuthService_Refresh_RevokedSessionRevokesToken(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.sessions.UpdateActivityFunc = func(ctx context.Context, id string, client models.ClientInfo) error {
		return models.ErrNotFound
	}

	var revoked string
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		revoked = jti
		return true, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrTokenInvalid)
	assert.Equal(t, "jti-1", revoked)
}

func TestAuthService_Refresh_ClientChangeIsAuditedNotBlocked(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")

	var gotID, gotIP, gotUA string
	d.sessions.ValidateSecurityFunc = func(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
		gotID, gotIP, gotUA = id, ip, userAgent
		return models.SecurityCheck{Valid: true, Warnings: []string{"ip_changed", "user_agent_changed"}}, nil
	}

	service := d.authService(AuthOptions{})
	audit := captureAudit(service)
	resp, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "session-1", gotID)
	assert.Equal(t, testClient.IPAddress, gotIP)
	assert.Equal(t, testClient.UserAgent, gotUA)
	assert.Contains(t, audit.String(), `"event_type":"session_anomaly"`)
	assert.Contains(t, audit.String(), "ip_changed,user_agent_changed")
}

func TestAuthService_Refresh_InvalidSessionRevokesToken(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.sessions.ValidateSecurityFunc = func(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
		return models.SecurityCheck{Valid: false, Reason: "session_not_found"}, nil
	}
	d.sessions.UpdateActivityFunc = func(ctx context.Context, id string, client models.ClientInfo) error {
		t.Fatal("an ended session is not touched")
		return nil
	}

	var revoked string
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		revoked = jti
		return true, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrTokenInvalid)
	assert.Equal(t, "jti-1", revoked)
}

func TestAuthService_Refresh_SecurityCheckErrorFailsOpen(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.sessions.ValidateSecurityFunc = func(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
		return models.SecurityCheck{}, models.ErrUnavailable
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthService_Refresh_WithoutSessionSkipsSecurityCheck(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "")
	d.sessions.ValidateSecurityFunc = func(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
		t.Fatal("tokens issued without a session have nothing to check")
		return models.SecurityCheck{}, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
}

func TestAuthService_Refresh_SessionStoreDownIsNotFatal(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")
	d.sessions.UpdateActivityFunc = func(ctx context.Context, id string, client models.ClientInfo) error {
		return models.ErrUnavailable
	}

	service := d.authService(AuthOptions{})
	resp, err := service.Refresh(context.Background(), token, testClient)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthService_Refresh_InactiveUser(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	user.IsActive = false
	token := refreshFixture(t, d, user, "")

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrAccountInactive)
}

func TestAuthService_Refresh_RejectsAccessToken(t *testing.T) {
	d := newTestDeps(t)
	access, err := d.tm.IssueAccessToken(models.AccessClaims{UserID: "user_123", Email: "test@example.com", Role: "user"}, 0)
	require.NoError(t, err)

	service := d.authService(AuthOptions{})
	_, err = service.Refresh(context.Background(), access, testClient)

	assert.Error(t, err)
}

func TestAuthService_Refresh_RecordOfAnotherUser(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "")
	d.refresh.LookupActiveFunc = func(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
		return &models.RefreshTokenRecord{UserID: "someone_else", TokenJTI: jti, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Refresh(context.Background(), token, testClient)

	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

// ============================================================================
// Logout Tests
// ============================================================================

func TestAuthService_Logout_RevokesTokenAndSession(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	token := refreshFixture(t, d, user, "session-1")

	var revoked *models.RefreshTokenRecord
	d.refresh.RevokeFunc = func(ctx context.Context, rec *models.RefreshTokenRecord) error {
		revoked = rec
		return nil
	}
	var dropped string
	d.sessions.RevokeSessionFunc = func(ctx context.Context, id string) error {
		dropped = id
		return nil
	}

	service := d.authService(AuthOptions{})
	err := service.Logout(context.Background(), token)
	service.Drain()

	require.NoError(t, err)
	require.NotNil(t, revoked)
	assert.Equal(t, "jti-1", revoked.TokenJTI)
	assert.Equal(t, "session-1", dropped)
}

func TestAuthService_Logout_UnusableTokenIsNoOp(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(t)
			d.refresh.LookupActiveFunc = func(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
				t.Fatal("no lookup for an unusable token")
				return nil, nil
			}

			service := d.authService(AuthOptions{})
			assert.NoError(t, service.Logout(context.Background(), tt.token))
		})
	}
}

func TestAuthService_LogoutAll(t *testing.T) {
	d := newTestDeps(t)

	var refreshUser, refreshExcept string
	d.refresh.RevokeAllForUserFunc = func(ctx context.Context, userID, exceptJTI string) (int64, error) {
		refreshUser, refreshExcept = userID, exceptJTI
		return 3, nil
	}
	var sessionUser string
	d.sessions.RevokeAllForUserFunc = func(ctx context.Context, userID, exceptSessionID string) (int, error) {
		sessionUser = userID
		return 3, nil
	}

	service := d.authService(AuthOptions{})
	err := service.LogoutAll(context.Background(), "user_123")
	service.Drain()

	require.NoError(t, err)
	assert.Equal(t, "user_123", refreshUser)
	assert.Empty(t, refreshExcept)
	assert.Equal(t, "user_123", sessionUser)
}

func TestAuthService_RevokeUserSession(t *testing.T) {
	d := newTestDeps(t)
	d.sessions.GetSessionFunc = func(ctx context.Context, id string) (*models.Session, error) {
		return &models.Session{SessionID: id, UserID: "user_123", RefreshJTI: "jti-1"}, nil
	}
	var revokedJTI, revokedSession string
	d.refresh.RevokeIfActiveFunc = func(ctx context.Context, jti string) (bool, error) {
		revokedJTI = jti
		return true, nil
	}
	d.sessions.RevokeSessionFunc = func(ctx context.Context, id string) error {
		revokedSession = id
		return nil
	}

	service := d.authService(AuthOptions{})

	t.Run("own session", func(t *testing.T) {
		require.NoError(t, service.RevokeUserSession(context.Background(), "user_123", "session-9"))
		assert.Equal(t, "jti-1", revokedJTI)
		assert.Equal(t, "session-9", revokedSession)
	})

	t.Run("session of another user", func(t *testing.T) {
		err := service.RevokeUserSession(context.Background(), "user_456", "session-9")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	service.Drain()
}

// ============================================================================
// Register Tests
// ============================================================================

type recordingVerifier struct {
	userIDs []string
}

func (v *recordingVerifier) RequestEmailVerification(ctx context.Context, userID string) error {
	v.userIDs = append(v.userIDs, userID)
	return nil
}

func TestAuthService_Register_Success(t *testing.T) {
	d := newTestDeps(t)
	var created *models.User
	d.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		user.ID = "user_new"
		created = user
		return user, nil
	}

	verifier := &recordingVerifier{}
	service := d.authService(AuthOptions{})
	service.SetVerificationRequester(verifier)

	resp, err := service.Register(context.Background(), RegisterRequest{
		Email:    " New@Example.com",
		Username: "newbie",
		Password: testPassword,
	})

	require.NoError(t, err)
	assert.Equal(t, "user_new", resp.ID)
	assert.Equal(t, "new@example.com", resp.Email)
	assert.Equal(t, "user", resp.Role)
	assert.False(t, resp.EmailVerified)
	require.NotNil(t, created.Username)
	assert.Equal(t, "newbie", *created.Username)
	assert.NotEqual(t, testPassword, created.PasswordHash)

	ok, err := d.hasher.Verify(context.Background(), created.PasswordHash, testPassword)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"user_new"}, verifier.userIDs)
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	d := newTestDeps(t)
	d.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		t.Fatal("weak passwords must not reach the store")
		return nil, nil
	}

	service := d.authService(AuthOptions{})
	_, err := service.Register(context.Background(), RegisterRequest{Email: "new@example.com", Password: "short"})

	assert.ErrorIs(t, err, models.ErrWeakPassword)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	d := newTestDeps(t)
	d.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		return nil, models.ErrDuplicateEmail
	}

	service := d.authService(AuthOptions{})
	_, err := service.Register(context.Background(), RegisterRequest{Email: "taken@example.com", Password: testPassword})

	assert.ErrorIs(t, err, models.ErrDuplicateEmail)
}

func TestAuthService_GetCurrentUser(t *testing.T) {
	d := newTestDeps(t)
	user := NewTestUser(t, "user_123", "test@example.com")
	d.users.GetByIDFunc = userByID(user)

	service := d.authService(AuthOptions{})

	resp, err := service.GetCurrentUser(context.Background(), "user_123")
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", resp.Email)

	_, err = service.GetCurrentUser(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
