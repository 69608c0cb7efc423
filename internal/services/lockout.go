package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
)

// LockoutStore is the part of the credential store the lockout policy needs
type LockoutStore interface {
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

// LockoutPolicy locks an account after repeated failed logins
type LockoutPolicy struct {
	store       LockoutStore
	threshold   int
	duration    time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewLockoutPolicy creates a LockoutPolicy
func NewLockoutPolicy(store LockoutStore, threshold int, duration time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutPolicy {
	return &LockoutPolicy{
		store:       store,
		threshold:   threshold,
		duration:    duration,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CheckLock fails with *models.AccountLockedError while the lock is open,
// whatever the credentials presented
func (p *LockoutPolicy) CheckLock(user *models.User) error {
	if user.IsLocked(p.now()) {
		return &models.AccountLockedError{Until: *user.LockedUntil}
	}
	return nil
}

// RecordFailure counts a failed attempt; reaching the threshold locks the account
func (p *LockoutPolicy) RecordFailure(ctx context.Context, user *models.User, client models.ClientInfo) error {
	attempts, lockedUntil, err := p.store.RecordFailedLogin(ctx, user.ID, p.threshold, p.duration, p.now())
	if err != nil {
		p.logger.Error("failed to record failed login", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}

	if lockedUntil != nil && attempts >= p.threshold {
		p.logger.Warn("account locked after repeated failures",
			slog.String("user_id", user.ID),
			slog.Int("attempts", attempts),
			slog.Time("locked_until", *lockedUntil),
		)
		p.auditLogger.LogAccountAction("account_locked", user.ID, client.IPAddress, map[string]string{
			"locked_until": lockedUntil.UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// RecordSuccess clears the failure counter and lock
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, user *models.User) error {
	if err := p.store.ResetFailedLogins(ctx, user.ID); err != nil {
		p.logger.Error("failed to reset failed logins", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}
	return nil
}

// Unlock lifts a lock early
func (p *LockoutPolicy) Unlock(ctx context.Context, userID string) error {
	return p.store.ResetFailedLogins(ctx, userID)
}
