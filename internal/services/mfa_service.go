package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
)

// MFAUserStore is the subset of the credential store used by MFAService
type MFAUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetPendingMFA(ctx context.Context, id, encryptedSecret string, expiresAt time.Time) error
	EnableMFA(ctx context.Context, id, pendingSecret string, backupCodeHashes []string, step int64, now time.Time) error
	ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error)
	DisableMFA(ctx context.Context, id string) error
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error
}

// MFAConfig holds MFA configuration
type MFAConfig struct {
	BackupCodeCount int
	PendingTTL      time.Duration
}

// MFAService drives the DISABLED -> PENDING -> ENABLED -> DISABLED state machine
type MFAService struct {
	users       MFAUserStore
	totp        *auth.TOTPManager
	hasher      *Hasher
	lockout     *LockoutPolicy
	config      MFAConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(
	users MFAUserStore,
	totpMgr *auth.TOTPManager,
	hasher *Hasher,
	lockout *LockoutPolicy,
	config MFAConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		users:       users,
		totp:        totpMgr,
		hasher:      hasher,
		lockout:     lockout,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// BeginEnrollment generates a fresh secret and stores it as pending. Any
// earlier pending secret is replaced.
func (s *MFAService) BeginEnrollment(ctx context.Context, userID string) (*models.MFAEnrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	encrypted, err := s.totp.EncryptSecret(enrollment.Secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	expiresAt := s.now().Add(s.config.PendingTTL)
	if err := s.users.SetPendingMFA(ctx, userID, encrypted, expiresAt); err != nil {
		return nil, err
	}

	s.logger.Info("MFA enrollment started", slog.String("user_id", userID))

	return &models.MFAEnrollment{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCode,
		ExpiresInSecs:   int(s.config.PendingTTL.Seconds()),
	}, nil
}

// ConfirmEnrollment verifies a code against the pending secret, enables MFA
// and returns the plaintext backup codes. They are never retrievable again.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	now := s.now()
	if !user.HasPendingMFA(now) {
		return nil, models.ErrPendingMFAExpired
	}

	secret, err := s.totp.DecryptSecret(*user.PendingMFASecret)
	if err != nil {
		s.logger.Error("failed to decrypt pending TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	step, ok := s.totp.MatchCode(secret, code, now)
	if !ok {
		s.auditLogger.LogAccountAction("mfa_confirm_failed", userID, "", nil)
		return nil, models.ErrInvalidMFA
	}

	codes, hashes, err := s.newBackupCodes(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.users.EnableMFA(ctx, userID, *user.PendingMFASecret, hashes, step, now); err != nil {
		return nil, err
	}

	s.logger.Info("MFA enabled", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("mfa_enabled", userID, "", nil)

	return codes, nil
}

// Disable turns MFA off. proof must be the current password, an unused TOTP
// code or an unused backup code. Wrong proofs count towards the lockout
// threshold, and a locked account cannot disable MFA.
func (s *MFAService) Disable(ctx context.Context, userID, proof string, client models.ClientInfo) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return models.ErrMFANotEnabled
	}
	if err := s.lockout.CheckLock(user); err != nil {
		s.auditLogger.LogAccountAction("mfa_disable_blocked", userID, client.IPAddress, nil)
		return err
	}

	ok, err := s.checkProof(ctx, user, proof)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.lockout.RecordFailure(ctx, user, client); err != nil {
			return err
		}
		s.auditLogger.LogAccountAction("mfa_disable_failed", userID, client.IPAddress, nil)
		return models.ErrInvalidMFA
	}

	if err := s.users.DisableMFA(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("MFA disabled", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("mfa_disabled", userID, "", nil)
	return nil
}

func (s *MFAService) checkProof(ctx context.Context, user *models.User, proof string) (bool, error) {
	if proof == "" {
		return false, nil
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, proof)
	if err != nil || ok {
		return ok, err
	}

	if user.MFASecret != nil {
		secret, err := s.totp.DecryptSecret(*user.MFASecret)
		if err != nil {
			s.logger.Error("failed to decrypt TOTP secret", slog.String("user_id", user.ID), slog.Any("error", err))
			return false, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
		}
		accepted, err := s.acceptTOTP(ctx, user, secret, proof)
		if err != nil || accepted {
			return accepted, err
		}
	}

	matched, err := s.hasher.MatchAny(ctx, user.MFABackupCodesHashed, auth.NormalizeBackupCode(proof))
	if err != nil {
		return false, err
	}
	return matched != "", nil
}

// VerifyLoginChallenge accepts a TOTP code for the confirmed secret, or
// consumes one matching backup code. Anything else is models.ErrInvalidMFA.
func (s *MFAService) VerifyLoginChallenge(ctx context.Context, user *models.User, code string) error {
	if !user.MFAEnabled || user.MFASecret == nil {
		return models.ErrMFANotEnabled
	}

	secret, err := s.totp.DecryptSecret(*user.MFASecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	accepted, err := s.acceptTOTP(ctx, user, secret, code)
	if err != nil {
		return err
	}
	if accepted {
		return nil
	}

	matched, err := s.hasher.MatchAny(ctx, user.MFABackupCodesHashed, auth.NormalizeBackupCode(code))
	if err != nil {
		return err
	}
	if matched == "" {
		return models.ErrInvalidMFA
	}

	consumed, err := s.users.ConsumeBackupCode(ctx, user.ID, matched)
	if err != nil {
		return err
	}
	if !consumed {
		// a concurrent login used the same code first
		return models.ErrInvalidMFA
	}

	s.logger.Info("backup code consumed",
		slog.String("user_id", user.ID),
		slog.Int("remaining", len(user.MFABackupCodesHashed)-1),
	)
	s.auditLogger.LogAccountAction("mfa_backup_code_used", user.ID, "", nil)
	return nil
}

// Status reports the MFA state of the user
func (s *MFAService) Status(ctx context.Context, userID string) (*models.MFAStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.MFAStatus{
		MFAEnabled:           user.MFAEnabled,
		EnrollmentPending:    !user.MFAEnabled && user.HasPendingMFA(s.now()),
		BackupCodesRemaining: len(user.MFABackupCodesHashed),
	}, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled || user.MFASecret == nil {
		return nil, models.ErrMFANotEnabled
	}

	secret, err := s.totp.DecryptSecret(*user.MFASecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	accepted, err := s.acceptTOTP(ctx, user, secret, code)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, models.ErrInvalidMFA
	}

	codes, hashes, err := s.newBackupCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	s.auditLogger.LogAccountAction("mfa_backup_codes_regenerated", userID, "", nil)
	return codes, nil
}

// acceptTOTP reports whether code is a valid TOTP code for secret whose time
// step is newer than any step accepted before. The step is claimed atomically,
// so of two concurrent requests carrying the same code only one succeeds.
func (s *MFAService) acceptTOTP(ctx context.Context, user *models.User, secret, code string) (bool, error) {
	step, ok := s.totp.MatchCode(secret, code, s.now())
	if !ok {
		return false, nil
	}
	if step <= user.MFALastUsedStep {
		s.logger.Warn("TOTP code replay rejected", slog.String("user_id", user.ID), slog.Int64("step", step))
		s.auditLogger.LogAccountAction("mfa_code_replayed", user.ID, "", nil)
		return false, nil
	}

	claimed, err := s.users.ClaimTOTPStep(ctx, user.ID, step)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Warn("TOTP code replay rejected", slog.String("user_id", user.ID), slog.Int64("step", step))
		s.auditLogger.LogAccountAction("mfa_code_replayed", user.ID, "", nil)
		return false, nil
	}
	user.MFALastUsedStep = step
	return true, nil
}

// newBackupCodes returns plaintext codes and their bcrypt hashes in the same order
func (s *MFAService) newBackupCodes(ctx context.Context) ([]string, []string, error) {
	codes, err := s.totp.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := s.hasher.Hash(ctx, code)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
		}
		hashes[i] = hash
	}
	return codes, hashes, nil
}
