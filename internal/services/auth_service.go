package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/session"
	pkgauth "github.com/BradenHooton/lineage-auth/pkg/auth"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/google/uuid"
)

// sessionCountSyncTimeout bounds the background session-count write
const sessionCountSyncTimeout = 5 * time.Second

// UserRepository defines the credential store operations used by the services
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error)
	ResetFailedLogins(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	UpdateSessionCount(ctx context.Context, id string, count int) error
	SetPendingMFA(ctx context.Context, id, encryptedSecret string, expiresAt time.Time) error
	EnableMFA(ctx context.Context, id, pendingSecret string, backupCodeHashes []string, step int64, now time.Time) error
	ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error)
	DisableMFA(ctx context.Context, id string) error
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository defines the refresh token registry operations
type RefreshTokenRepository interface {
	Create(ctx context.Context, rec *models.RefreshTokenRecord) error
	LookupActive(ctx context.Context, jti string) (*models.RefreshTokenRecord, error)
	Revoke(ctx context.Context, rec *models.RefreshTokenRecord) error
	RevokeIfActive(ctx context.Context, jti string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, exceptJTI string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshTokenRecord, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// SessionRegistry defines the ephemeral session store operations
type SessionRegistry interface {
	CreateSession(ctx context.Context, p session.CreateParams) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetSessionByRefreshJTI(ctx context.Context, jti string) (*models.Session, error)
	UpdateActivity(ctx context.Context, id string, client models.ClientInfo) error
	RevokeSession(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int, error)
	ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error)
	CountActive(ctx context.Context, userID string) (int, error)
	RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string) error
	ValidateSecurity(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error)
}

// VerificationRequester sends the email verification link after registration
type VerificationRequester interface {
	RequestEmailVerification(ctx context.Context, userID string) error
}

// AuthOptions toggles optional login and refresh behaviour
type AuthOptions struct {
	RotateRefreshTokens      bool
	RequireEmailVerification bool
}

// AuthService orchestrates login, refresh, logout and registration
type AuthService struct {
	users       UserRepository
	refresh     RefreshTokenRepository
	sessions    SessionRegistry
	tm          *auth.TokenManager
	hasher      *Hasher
	lockout     *LockoutPolicy
	mfa         *MFAService
	verifier    VerificationRequester
	opts        AuthOptions
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time

	// background tracks fire-and-forget session count syncs
	background sync.WaitGroup
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	refresh RefreshTokenRepository,
	sessions SessionRegistry,
	tm *auth.TokenManager,
	hasher *Hasher,
	lockout *LockoutPolicy,
	mfa *MFAService,
	opts AuthOptions,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		refresh:     refresh,
		sessions:    sessions,
		tm:          tm,
		hasher:      hasher,
		lockout:     lockout,
		mfa:         mfa,
		opts:        opts,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetVerificationRequester wires the account service in after construction
func (s *AuthService) SetVerificationRequester(v VerificationRequester) {
	s.verifier = v
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Username      *string `json:"username,omitempty"`
	Role          string  `json:"role"`
	IsActive      bool    `json:"is_active"`
	EmailVerified bool    `json:"email_verified"`
	MFAEnabled    bool    `json:"mfa_enabled"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// LoginResponse is the result of login and refresh. When RequireMFA is set
// the first factor succeeded and no tokens are carried.
type LoginResponse struct {
	AccessToken      string        `json:"accessToken,omitempty"`
	RefreshToken     string        `json:"refreshToken,omitempty"`
	ExpiresIn        int           `json:"expiresIn,omitempty"`
	RefreshExpiresIn int           `json:"refreshExpiresIn,omitempty"`
	TokenType        string        `json:"tokenType"`
	RequireMFA       bool          `json:"requireMfa"`
	User             *UserResponse `json:"user,omitempty"`
	SessionID        string        `json:"-"`
}

func newMFARequiredResponse() *LoginResponse {
	return &LoginResponse{TokenType: "Bearer", RequireMFA: true}
}

func (s *AuthService) newTokenResponse(access, refresh string, refreshTTL time.Duration, user *models.User, sessionID string) *LoginResponse {
	return &LoginResponse{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int(s.tm.AccessTTL().Seconds()),
		RefreshExpiresIn: int(refreshTTL.Seconds()),
		TokenType:        "Bearer",
		User:             userModelToResponse(user),
		SessionID:        sessionID,
	}
}

// LoginRequest carries the credentials and client of a login attempt
type LoginRequest struct {
	Email    string
	Password string
	MFACode  string
	Client   models.ClientInfo
}

// Login authenticates a user and issues a token pair
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.hasher.VerifyDummy(ctx, req.Password)
			s.logger.Info("login failed: invalid credentials", slog.String("email", pkglogger.SanitizedEmail(email)))
			s.auditFailure("", req.Client, "invalid_credentials")
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, err
	}

	if err := s.lockout.CheckLock(user); err != nil {
		s.logger.Info("login blocked: account locked", slog.String("user_id", user.ID))
		s.auditFailure(user.ID, req.Client, "account_locked")
		return nil, err
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.lockout.RecordFailure(ctx, user, req.Client); err != nil {
			return nil, err
		}
		s.logger.Info("login failed: invalid credentials", slog.String("user_id", user.ID))
		s.auditFailure(user.ID, req.Client, "invalid_credentials")
		return nil, models.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Info("login blocked: account inactive", slog.String("user_id", user.ID))
		s.auditFailure(user.ID, req.Client, "account_inactive")
		return nil, models.ErrAccountInactive
	}

	if s.opts.RequireEmailVerification && !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.auditFailure(user.ID, req.Client, "email_not_verified")
		return nil, models.ErrEmailNotVerified
	}

	if user.MFAEnabled {
		if strings.TrimSpace(req.MFACode) == "" {
			s.logger.Info("login requires MFA", slog.String("user_id", user.ID))
			return newMFARequiredResponse(), nil
		}

		if err := s.mfa.VerifyLoginChallenge(ctx, user, strings.TrimSpace(req.MFACode)); err != nil {
			if !errors.Is(err, models.ErrInvalidMFA) {
				return nil, err
			}
			if err := s.lockout.RecordFailure(ctx, user, req.Client); err != nil {
				return nil, err
			}
			s.logger.Info("login failed: invalid MFA code", slog.String("user_id", user.ID))
			s.auditFailure(user.ID, req.Client, "invalid_mfa")
			return nil, models.ErrInvalidMFA
		}
	}

	if err := s.lockout.RecordSuccess(ctx, user); err != nil {
		return nil, err
	}

	resp, err := s.issueSession(ctx, user, req.Client, user.MFAEnabled)
	if err != nil {
		return nil, err
	}

	if err := s.users.RecordLogin(ctx, user.ID, req.Client.IPAddress, s.now()); err != nil {
		s.logger.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.syncSessionCount(user.ID)

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: req.Client.IPAddress,
		UserAgent: req.Client.UserAgent,
		Success:   true,
	})

	return resp, nil
}

// issueSession opens a best-effort session, issues the token pair and
// persists the refresh record. A failed persist undoes the session.
func (s *AuthService) issueSession(ctx context.Context, user *models.User, client models.ClientInfo, mfaVerified bool) (*LoginResponse, error) {
	jti := uuid.NewString()

	var sessionID string
	sess, err := s.sessions.CreateSession(ctx, session.CreateParams{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Client:      client,
		RefreshJTI:  jti,
		MFAVerified: mfaVerified,
		MaxSessions: user.MaxConcurrentSessions,
	})
	if err != nil {
		s.logger.Warn("failed to create session; continuing without one",
			slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		sessionID = sess.SessionID
	}

	access, err := s.tm.IssueAccessToken(models.AccessClaims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
	}, 0)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		s.dropSession(ctx, user.ID, sessionID)
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	refreshTTL := s.tm.RefreshTTL()
	refresh, err := s.tm.IssueRefreshToken(user.ID, jti, sessionID, refreshTTL)
	if err != nil {
		s.logger.Error("failed to issue refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		s.dropSession(ctx, user.ID, sessionID)
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	rec := &models.RefreshTokenRecord{
		UserID:    user.ID,
		TokenJTI:  jti,
		ExpiresAt: s.now().Add(refreshTTL),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	if sessionID != "" {
		rec.SessionID = &sessionID
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		s.logger.Error("failed to persist refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		s.dropSession(ctx, user.ID, sessionID)
		return nil, err
	}

	return s.newTokenResponse(access, refresh, refreshTTL, user, sessionID), nil
}

func (s *AuthService) dropSession(ctx context.Context, userID, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to revoke session", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// checkSession compares the refreshing client with the one recorded on the
// session. Client changes are logged and audited but allowed; only a session
// that no longer exists fails the check. Registry errors fail open.
func (s *AuthService) checkSession(ctx context.Context, userID, sessionID string, client models.ClientInfo) bool {
	check, err := s.sessions.ValidateSecurity(ctx, sessionID, client.IPAddress, client.UserAgent)
	if err != nil {
		s.logger.Warn("failed to validate session security", slog.String("user_id", userID), slog.Any("error", err))
		return true
	}
	if !check.Valid {
		s.logger.Info("refresh for ended session", slog.String("user_id", userID), slog.String("reason", check.Reason))
		return false
	}
	if len(check.Warnings) > 0 {
		s.logger.Warn("session client changed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Any("warnings", check.Warnings),
		)
		s.auditLogger.LogSessionEvent("session_anomaly", userID, sessionID, map[string]string{
			"warnings":   strings.Join(check.Warnings, ","),
			"ip_address": client.IPAddress,
		})
	}
	return true
}

// endOrphanedRefresh revokes the refresh token of a session that was revoked or evicted
func (s *AuthService) endOrphanedRefresh(ctx context.Context, userID, sessionID, jti string) {
	if _, err := s.refresh.RevokeIfActive(ctx, jti); err != nil {
		s.logger.Warn("failed to revoke orphaned refresh token", slog.String("user_id", userID), slog.Any("error", err))
	}
	s.auditLogger.LogSessionEvent("refresh_after_session_end", userID, sessionID, map[string]string{"jti": jti})
}

// Refresh exchanges a refresh token for a new access token. With rotation
// enabled the presented token is revoked and a replacement issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*LoginResponse, error) {
	claims, err := s.tm.DecodeRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		s.logger.Info("refresh token rejected", slog.Any("error", err))
		return nil, err
	}

	rec, err := s.refresh.LookupActive(ctx, claims.JTI())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh token not active", slog.String("user_id", claims.UserID))
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if rec.UserID != claims.UserID {
		s.logger.Warn("refresh token bound to a different user", slog.String("user_id", claims.UserID))
		return nil, models.ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		s.logger.Info("token refresh blocked: account inactive", slog.String("user_id", user.ID))
		return nil, models.ErrAccountInactive
	}

	sessionID := claims.SessionID
	if sessionID != "" {
		if !s.checkSession(ctx, user.ID, sessionID, client) {
			s.endOrphanedRefresh(ctx, user.ID, sessionID, rec.TokenJTI)
			return nil, models.ErrTokenInvalid
		}

		err := s.sessions.UpdateActivity(ctx, sessionID, client)
		switch {
		case errors.Is(err, models.ErrNotFound):
			s.endOrphanedRefresh(ctx, user.ID, sessionID, rec.TokenJTI)
			return nil, models.ErrTokenInvalid
		case err != nil:
			s.logger.Warn("failed to update session activity", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	access, err := s.tm.IssueAccessToken(models.AccessClaims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
	}, 0)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	if !s.opts.RotateRefreshTokens {
		s.logger.Info("token refreshed", slog.String("user_id", user.ID))
		return s.newTokenResponse(access, refreshToken, rec.ExpiresAt.Sub(s.now()), user, sessionID), nil
	}

	won, err := s.refresh.RevokeIfActive(ctx, rec.TokenJTI)
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Warn("refresh token reuse during rotation", slog.String("user_id", user.ID))
		s.auditFailure(user.ID, client, "refresh_token_reuse")
		return nil, models.ErrTokenInvalid
	}

	newJTI := uuid.NewString()
	refreshTTL := s.tm.RefreshTTL()
	newRefresh, err := s.tm.IssueRefreshToken(user.ID, newJTI, sessionID, refreshTTL)
	if err != nil {
		s.logger.Error("failed to issue refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	newRec := &models.RefreshTokenRecord{
		UserID:    user.ID,
		TokenJTI:  newJTI,
		ExpiresAt: s.now().Add(refreshTTL),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		SessionID: rec.SessionID,
	}
	if err := s.refresh.Create(ctx, newRec); err != nil {
		s.logger.Error("failed to persist rotated refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, err
	}

	if sessionID != "" {
		if err := s.sessions.RotateRefreshJTI(ctx, sessionID, rec.TokenJTI, newJTI); err != nil {
			s.logger.Warn("failed to re-point session to rotated token", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("token refreshed with rotation", slog.String("user_id", user.ID))
	return s.newTokenResponse(access, newRefresh, refreshTTL, user, sessionID), nil
}

// Logout revokes the presented refresh token and its session. A missing or
// invalid token makes logout a successful no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	claims, err := s.tm.DecodeRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		s.logger.Info("logout with unusable refresh token", slog.Any("error", err))
		return nil
	}

	rec, err := s.refresh.LookupActive(ctx, claims.JTI())
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return err
	case rec.UserID == claims.UserID:
		if err := s.refresh.Revoke(ctx, rec); err != nil {
			s.logger.Error("failed to revoke refresh token", slog.String("user_id", claims.UserID), slog.Any("error", err))
			return err
		}
	}

	s.dropSession(ctx, claims.UserID, claims.SessionID)
	s.syncSessionCount(claims.UserID)

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{EventType: "logout", UserID: claims.UserID, Success: true})
	return nil
}

// LogoutAll revokes every refresh token and session of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	revoked, err := s.refresh.RevokeAllForUser(ctx, userID, "")
	if err != nil {
		s.logger.Error("failed to revoke all refresh tokens", slog.String("user_id", userID), slog.Any("error", err))
		return err
	}
	s.revokeSessions(ctx, userID, "")

	s.logger.Info("user logged out from all devices",
		slog.String("user_id", userID), slog.Int64("revoked_tokens", revoked))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{EventType: "logout_all", UserID: userID, Success: true})
	return nil
}

// revokeSessions removes the user's sessions best-effort and resyncs the count
func (s *AuthService) revokeSessions(ctx context.Context, userID, exceptSessionID string) {
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, exceptSessionID); err != nil {
		s.logger.Warn("failed to revoke sessions", slog.String("user_id", userID), slog.Any("error", err))
	}
	s.syncSessionCount(userID)
}

// ListSessions returns the redacted active sessions of the user
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	return s.sessions.ListActiveSessions(ctx, userID)
}

// RevokeUserSession ends one of the user's own sessions together with its refresh token
func (s *AuthService) RevokeUserSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return models.ErrNotFound
	}

	if sess.RefreshJTI != "" {
		if _, err := s.refresh.RevokeIfActive(ctx, sess.RefreshJTI); err != nil {
			return err
		}
	}
	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	s.syncSessionCount(userID)

	s.logger.Info("session revoked", slog.String("user_id", userID), slog.String("session_id", sessionID))
	s.auditLogger.LogSessionEvent("session_revoked", userID, sessionID, nil)
	return nil
}

// RegisterRequest carries the fields of a new account
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// Register creates a new account and sends the verification email
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		s.logger.Info("registration rejected: weak password", slog.Any("reason", err))
		return nil, models.ErrWeakPassword
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
		IsActive:     true,
	}
	if username := strings.TrimSpace(req.Username); username != "" {
		user.Username = &username
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		s.logger.Info("registration failed", slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction("user_registered", created.ID, "", nil)

	if s.verifier != nil {
		if err := s.verifier.RequestEmailVerification(ctx, created.ID); err != nil {
			s.logger.Warn("failed to send verification email", slog.String("user_id", created.ID), slog.Any("error", err))
		}
	}

	return userModelToResponse(created), nil
}

// GetCurrentUser returns the profile of the authenticated user
func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userModelToResponse(user), nil
}

// syncSessionCount mirrors the live session count into the credential store.
// It is fire-and-forget; Drain waits for outstanding syncs.
func (s *AuthService) syncSessionCount(userID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sessionCountSyncTimeout)
		defer cancel()

		count, err := s.sessions.CountActive(ctx, userID)
		if err != nil {
			s.logger.Debug("session count sync skipped", slog.String("user_id", userID), slog.Any("error", err))
			return
		}
		if err := s.users.UpdateSessionCount(ctx, userID, count); err != nil {
			s.logger.Debug("session count sync failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	}()
}

// Drain blocks until background syncs finish
func (s *AuthService) Drain() {
	s.background.Wait()
}

func (s *AuthService) auditFailure(userID string, client models.ClientInfo, reason string) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
		FailureReason: reason,
		Success:       false,
	})
}

// userModelToResponse converts a user model to response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		Role:          user.Role,
		IsActive:      user.IsActive,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.MFAEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}
