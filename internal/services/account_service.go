package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	pkgauth "github.com/BradenHooton/lineage-auth/pkg/auth"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
)

// ActionTokenRepository defines one-time token storage
type ActionTokenRepository interface {
	Create(ctx context.Context, userID, purpose, tokenHash, email string, expiresAt time.Time) (*models.ActionToken, error)
	GetByTokenHash(ctx context.Context, purpose, tokenHash string) (*models.ActionToken, error)
	RedeemPasswordReset(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) (int64, error)
	RedeemEmailVerification(ctx context.Context, tokenID, userID, email string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// AccountConfig holds link and token lifetime settings
type AccountConfig struct {
	AppBaseURL           string
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
}

// AccountService handles password changes, password resets and email verification
type AccountService struct {
	users       UserRepository
	refresh     RefreshTokenRepository
	sessions    SessionRegistry
	tokens      ActionTokenRepository
	notifier    Notifier
	hasher      *Hasher
	lockout     *LockoutPolicy
	tm          *auth.TokenManager
	config      AccountConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAccountService creates a new AccountService
func NewAccountService(
	users UserRepository,
	refresh RefreshTokenRepository,
	sessions SessionRegistry,
	tokens ActionTokenRepository,
	notifier Notifier,
	hasher *Hasher,
	lockout *LockoutPolicy,
	tm *auth.TokenManager,
	config AccountConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AccountService {
	return &AccountService{
		users:       users,
		refresh:     refresh,
		sessions:    sessions,
		tokens:      tokens,
		notifier:    notifier,
		hasher:      hasher,
		lockout:     lockout,
		tm:          tm,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// generateActionToken returns a URL-safe plaintext token and the SHA-256 hex hash stored for it
func generateActionToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashActionToken(plain), nil
}

func hashActionToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func (s *AccountService) link(path, token string) string {
	return strings.TrimRight(s.config.AppBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// ChangePasswordRequest identifies the caller and both passwords.
// The caller's own session and refresh token survive the change.
type ChangePasswordRequest struct {
	UserID          string
	SessionID       string
	RefreshToken    string
	CurrentPassword string
	NewPassword     string
	Client          models.ClientInfo
}

// ChangePassword verifies the current password, stores the new one and ends
// every other session of the user. A wrong current password counts towards
// the lockout threshold like a failed login.
func (s *AccountService) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return err
	}
	if err := s.lockout.CheckLock(user); err != nil {
		s.logger.Info("password change blocked: account locked", slog.String("user_id", user.ID))
		s.auditLogger.LogPasswordChange(user.ID, req.Client.IPAddress, false)
		return err
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, req.CurrentPassword)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.lockout.RecordFailure(ctx, user, req.Client); err != nil {
			return err
		}
		s.auditLogger.LogPasswordChange(user.ID, req.Client.IPAddress, false)
		return models.ErrInvalidCredentials
	}

	if err := pkgauth.ValidatePassword(req.NewPassword); err != nil {
		s.logger.Info("password change rejected: weak password", slog.String("user_id", user.ID), slog.Any("reason", err))
		return models.ErrWeakPassword
	}

	if err := s.storePassword(ctx, user.ID, req.NewPassword); err != nil {
		return err
	}

	exceptJTI := s.callerRefreshJTI(ctx, req)
	if _, err := s.refresh.RevokeAllForUser(ctx, user.ID, exceptJTI); err != nil {
		s.logger.Error("failed to revoke refresh tokens after password change", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, req.SessionID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("password changed", slog.String("user_id", user.ID))
	s.auditLogger.LogPasswordChange(user.ID, req.Client.IPAddress, true)
	return nil
}

// callerRefreshJTI finds the refresh token the caller keeps: the presented
// one when it belongs to the user, otherwise the one their session points at
func (s *AccountService) callerRefreshJTI(ctx context.Context, req ChangePasswordRequest) string {
	if req.RefreshToken != "" {
		if claims, err := s.tm.DecodeRefresh(req.RefreshToken); err == nil && claims.UserID == req.UserID {
			return claims.JTI()
		}
	}
	if req.SessionID != "" {
		if sess, err := s.sessions.GetSession(ctx, req.SessionID); err == nil && sess.UserID == req.UserID {
			return sess.RefreshJTI
		}
	}
	return ""
}

func (s *AccountService) hashPassword(ctx context.Context, userID, password string) (string, error) {
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		s.logger.Error("failed to hash password", slog.String("user_id", userID), slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	return hash, nil
}

func (s *AccountService) storePassword(ctx context.Context, userID, password string) error {
	hash, err := s.hashPassword(ctx, userID, password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash, s.now())
}

// RequestPasswordReset mails a reset link. It reports success whether or not
// the email belongs to an account.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for password reset", slog.Any("error", err))
		}
		return nil
	}
	if !user.IsActive {
		s.logger.Info("password reset skipped: account inactive", slog.String("user_id", user.ID))
		return nil
	}

	plain, hash, err := generateActionToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	expiresAt := s.now().Add(s.config.PasswordResetTTL)
	if _, err := s.tokens.Create(ctx, user.ID, models.PurposePasswordReset, hash, user.Email, expiresAt); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, s.link("/reset-password", plain), expiresAt); err != nil {
		s.logger.Error("failed to send password reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	s.logger.Info("password reset requested", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, "", nil)
	return nil
}

// lookupToken finds a one-time token and checks it is still redeemable.
// Consumption happens in the repository transaction that applies its effect.
func (s *AccountService) lookupToken(ctx context.Context, purpose, plain string) (*models.ActionToken, error) {
	if strings.TrimSpace(plain) == "" {
		return nil, models.ErrTokenInvalid
	}

	token, err := s.tokens.GetByTokenHash(ctx, purpose, hashActionToken(plain))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if token.IsUsed() {
		s.logger.Warn("attempt to reuse one-time token", slog.String("user_id", token.UserID), slog.String("purpose", purpose))
		return nil, models.ErrTokenInvalid
	}
	if token.IsExpired(s.now()) {
		return nil, models.ErrTokenExpired
	}
	return token, nil
}

// ConfirmPasswordReset sets a new password from a reset token and ends every
// session of the user. The reset also lifts any lockout.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, plainToken, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		s.logger.Info("password reset rejected: weak password", slog.Any("reason", err))
		return models.ErrWeakPassword
	}

	token, err := s.lookupToken(ctx, models.PurposePasswordReset, plainToken)
	if err != nil {
		return err
	}

	hash, err := s.hashPassword(ctx, token.UserID, newPassword)
	if err != nil {
		return err
	}

	// token, password, lockout and refresh tokens change together or not at all
	revoked, err := s.tokens.RedeemPasswordReset(ctx, token.ID, token.UserID, hash, s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// another request redeemed it first, or the user is gone
			return models.ErrTokenInvalid
		}
		s.logger.Error("failed to apply password reset", slog.String("user_id", token.UserID), slog.Any("error", err))
		return err
	}
	s.logger.Info("refresh tokens revoked after password reset", slog.String("user_id", token.UserID), slog.Int64("revoked", revoked))

	if _, err := s.sessions.RevokeAllForUser(ctx, token.UserID, ""); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", slog.String("user_id", token.UserID), slog.Any("error", err))
	}

	s.logger.Info("password reset completed", slog.String("user_id", token.UserID))
	s.auditLogger.LogPasswordChange(token.UserID, "", true)
	return nil
}

// RequestEmailVerification mails a verification link to the user's current
// address. Already verified users are left alone.
func (s *AccountService) RequestEmailVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}

	plain, hash, err := generateActionToken()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	expiresAt := s.now().Add(s.config.EmailVerificationTTL)
	if _, err := s.tokens.Create(ctx, user.ID, models.PurposeEmailVerification, hash, user.Email, expiresAt); err != nil {
		s.logger.Error("failed to store verification token", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}

	if err := s.notifier.SendEmailVerification(ctx, user.Email, s.link("/verify-email", plain), expiresAt); err != nil {
		return err
	}

	s.logger.Info("verification email sent", slog.String("user_id", user.ID))
	return nil
}

// ResendEmailVerification is the unauthenticated variant keyed by email.
// It reports success whether or not the email belongs to an account.
func (s *AccountService) ResendEmailVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for verification resend", slog.Any("error", err))
		}
		return nil
	}
	if err := s.RequestEmailVerification(ctx, user.ID); err != nil {
		s.logger.Error("failed to resend verification email", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// ConfirmEmailVerification marks the address verified. A token minted for an
// address the user no longer has is rejected.
func (s *AccountService) ConfirmEmailVerification(ctx context.Context, plainToken string) error {
	token, err := s.lookupToken(ctx, models.PurposeEmailVerification, plainToken)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		return err
	}
	if !strings.EqualFold(user.Email, token.Email) {
		s.logger.Warn("verification token for a stale address", slog.String("user_id", user.ID))
		return models.ErrTokenInvalid
	}

	if err := s.tokens.RedeemEmailVerification(ctx, token.ID, user.ID, token.Email); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		return err
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("email_verified", user.ID, "", nil)
	return nil
}
