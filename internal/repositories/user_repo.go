package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/database"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, username, password_hash, role, is_active, email_verified,
	mfa_enabled, mfa_secret, pending_mfa_secret, pending_mfa_secret_expires_at, mfa_backup_codes_hashed, mfa_last_used_step,
	failed_login_attempts, locked_until, last_login_at, last_login_ip,
	current_session_count, max_concurrent_sessions, password_changed_at, created_at, updated_at`

type UserRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool, retry: database.DefaultRetryPolicy}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.Role, &user.IsActive, &user.EmailVerified,
		&user.MFAEnabled, &user.MFASecret, &user.PendingMFASecret, &user.PendingMFASecretExpiresAt, &user.MFABackupCodesHashed, &user.MFALastUsedStep,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.LastLoginAt, &user.LastLoginIP,
		&user.CurrentSessionCount, &user.MaxConcurrentSessions, &user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user *models.User
	err := database.ReadWithRetry(ctx, r.retry, func(ctx context.Context) error {
		var err error
		user, err = scanUserRow(r.pool.QueryRow(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail looks a user up by case-folded email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
}

// Create inserts user, filling ID and timestamps.
// Unique violations surface as ErrDuplicateEmail or ErrDuplicateUsername.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.PasswordChangedAt == nil {
		user.PasswordChangedAt = &now
	}

	if user.Role == "" {
		user.Role = "user"
	}
	if user.MaxConcurrentSessions < 0 {
		user.MaxConcurrentSessions = 0
	}
	if user.MFABackupCodesHashed == nil {
		user.MFABackupCodesHashed = []string{}
	}

	query := `
		INSERT INTO users (id, email, username, password_hash, role, is_active, email_verified,
			max_concurrent_sessions, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash, user.Role, user.IsActive, user.EmailVerified,
		user.MaxConcurrentSessions, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		switch {
		case database.IsUniqueViolationOn(err, "username"):
			return nil, models.ErrDuplicateUsername
		case errors.Is(err, models.ErrConflict):
			return nil, models.ErrDuplicateEmail
		}
		return nil, err
	}

	return created, nil
}

// exec runs a single-row mutation and maps a zero row count to ErrNotFound
func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordFailedLogin atomically increments the failure counter. When the new
// count reaches threshold the account is locked until now+lockFor in the same
// statement. A lock that has already elapsed restarts the count at one.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
				ELSE failed_login_attempts + 1
			END,
			locked_until = CASE
				WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
					ELSE failed_login_attempts + 1 END) >= $2 THEN $3::timestamptz
				WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN NULL
				ELSE locked_until
			END,
			updated_at = $4
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, threshold, now.Add(lockFor), now).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return attempts, lockedUntil, nil
}

// ResetFailedLogins clears the failure counter and any lock
func (r *UserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}

// RecordLogin stores the time and address of a successful login
func (r *UserRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET last_login_at = $2, last_login_ip = $3, updated_at = NOW()
		WHERE id = $1
	`, id, at, ip)
}

// SetActive activates or deactivates an account
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// UpdatePassword replaces the password hash and stamps password_changed_at
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, changedAt)
}

// UpdateSessionCount records the observed number of active sessions
func (r *UserRepository) UpdateSessionCount(ctx context.Context, id string, count int) error {
	return r.exec(ctx, `UPDATE users SET current_session_count = $2 WHERE id = $1`, id, count)
}

// SetPendingMFA stores a pending secret and clears any confirmed one.
// The update only applies while MFA is disabled, so a concurrent confirmation
// is never overwritten.
func (r *UserRepository) SetPendingMFA(ctx context.Context, id, encryptedSecret string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			pending_mfa_secret = $2,
			pending_mfa_secret_expires_at = $3,
			mfa_secret = NULL,
			updated_at = NOW()
		WHERE id = $1 AND mfa_enabled = FALSE
	`, id, encryptedSecret, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissing(ctx, id, models.ErrMFAAlreadyEnabled)
	}
	return nil
}

// EnableMFA promotes the pending secret the caller verified and records the
// TOTP step of the confirming code so it cannot be replayed. It fails with
// ErrPendingMFAExpired when that pending secret was replaced, expired, or
// already promoted.
func (r *UserRepository) EnableMFA(ctx context.Context, id, pendingSecret string, backupCodeHashes []string, step int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			mfa_enabled = TRUE,
			mfa_secret = pending_mfa_secret,
			pending_mfa_secret = NULL,
			pending_mfa_secret_expires_at = NULL,
			mfa_backup_codes_hashed = $3,
			mfa_last_used_step = GREATEST(mfa_last_used_step, $5),
			updated_at = $4
		WHERE id = $1
			AND mfa_enabled = FALSE
			AND pending_mfa_secret = $2
			AND pending_mfa_secret_expires_at > $4
	`, id, pendingSecret, backupCodeHashes, now, step)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissing(ctx, id, models.ErrPendingMFAExpired)
	}
	return nil
}

// ClaimTOTPStep advances mfa_last_used_step to step. It reports false when
// step is not newer than the stored value, meaning the code was already used
// or a later one has been accepted.
func (r *UserRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET mfa_last_used_step = $2, updated_at = NOW()
		WHERE id = $1 AND mfa_enabled = TRUE AND mfa_last_used_step < $2
	`, id, step)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DisableMFA clears every MFA field
func (r *UserRepository) DisableMFA(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			mfa_enabled = FALSE,
			mfa_secret = NULL,
			pending_mfa_secret = NULL,
			pending_mfa_secret_expires_at = NULL,
			mfa_backup_codes_hashed = '{}',
			updated_at = NOW()
		WHERE id = $1 AND mfa_enabled = TRUE
	`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissing(ctx, id, models.ErrMFANotEnabled)
	}
	return nil
}

// ConsumeBackupCode removes exactly the given hash from the stored list.
// It reports false when the hash was not present, for example because a
// concurrent login consumed it first.
func (r *UserRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			mfa_backup_codes_hashed = array_remove(mfa_backup_codes_hashed, $2),
			updated_at = NOW()
		WHERE id = $1 AND mfa_enabled = TRUE AND $2 = ANY(mfa_backup_codes_hashed)
	`, id, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceBackupCodes swaps the stored hashes for a fresh set
func (r *UserRepository) ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET mfa_backup_codes_hashed = $2, updated_at = NOW()
		WHERE id = $1 AND mfa_enabled = TRUE
	`, id, backupCodeHashes)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissing(ctx, id, models.ErrMFANotEnabled)
	}
	return nil
}

// Delete permanently removes the user; refresh and action tokens cascade
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

// explainMissing distinguishes a missing user from a failed state guard
func (r *UserRepository) explainMissing(ctx context.Context, id string, guardErr error) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return fmt.Errorf("user %s: %w", id, guardErr)
}
