package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/lineage-auth/internal/models"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
)

// Audit listing bounds for ListUserAuditLogs
const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 200
)

// AuditLogReader reads persisted audit records
type AuditLogReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
}

// AdminService holds the administrative account operations
type AdminService struct {
	users       UserRepository
	refresh     RefreshTokenRepository
	sessions    SessionRegistry
	audits      AuditLogReader
	lockout     *LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	users UserRepository,
	refresh RefreshTokenRepository,
	sessions SessionRegistry,
	audits AuditLogReader,
	lockout *LockoutPolicy,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AdminService {
	return &AdminService{
		users:       users,
		refresh:     refresh,
		sessions:    sessions,
		audits:      audits,
		lockout:     lockout,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// GetUser returns any user's profile
func (s *AdminService) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userModelToResponse(user), nil
}

// DeleteUser permanently removes a user. Sessions go first since the
// ephemeral store has no cascade; refresh and action tokens cascade in SQL.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return fmt.Errorf("%w: administrators cannot delete their own account", models.ErrBadRequest)
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, ""); err != nil {
		s.logger.Warn("failed to revoke sessions before delete", slog.String("user_id", userID), slog.Any("error", err))
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		s.logger.Error("failed to delete user", slog.String("user_id", userID), slog.Any("error", err))
		return err
	}

	s.logger.Info("user deleted", slog.String("user_id", userID), slog.String("actor_id", actorID))
	s.auditLogger.LogAccountAction("user_deleted", userID, "", map[string]string{"actor_id": actorID})
	return nil
}

// UnlockUser lifts an active lockout and clears the failure counter
func (s *AdminService) UnlockUser(ctx context.Context, actorID, userID string) error {
	if err := s.lockout.Unlock(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("user unlocked", slog.String("user_id", userID), slog.String("actor_id", actorID))
	s.auditLogger.LogAccountAction("user_unlocked", userID, "", map[string]string{"actor_id": actorID})
	return nil
}

// SetUserActive activates or deactivates an account. Deactivation ends every
// session and refresh token of the user.
func (s *AdminService) SetUserActive(ctx context.Context, actorID, userID string, active bool) error {
	if actorID == userID && !active {
		return fmt.Errorf("%w: administrators cannot deactivate their own account", models.ErrBadRequest)
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return err
	}

	if !active {
		if _, err := s.refresh.RevokeAllForUser(ctx, userID, ""); err != nil {
			s.logger.Error("failed to revoke refresh tokens on deactivation", slog.String("user_id", userID), slog.Any("error", err))
			return err
		}
		if _, err := s.sessions.RevokeAllForUser(ctx, userID, ""); err != nil {
			s.logger.Warn("failed to revoke sessions on deactivation", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	event := "user_activated"
	if !active {
		event = "user_deactivated"
	}
	s.logger.Info(event, slog.String("user_id", userID), slog.String("actor_id", actorID))
	s.auditLogger.LogAccountAction(event, userID, "", map[string]string{"actor_id": actorID})
	return nil
}

// ListUserSessions returns the redacted sessions of any user
func (s *AdminService) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	return s.sessions.ListActiveSessions(ctx, userID)
}

// ListUserAuditLogs returns the newest audit records of a user. Records are
// kept after the account is deleted, so the user need not exist.
func (s *AdminService) ListUserAuditLogs(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}
	limit = min(limit, MaxAuditPageSize)
	return s.audits.ListByUser(ctx, userID, limit)
}
