package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/database"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const actionTokenColumns = `id, user_id, purpose, token_hash, email, expires_at, used_at, created_at`

// ActionTokenRepository stores one-time email verification and password reset tokens
type ActionTokenRepository struct {
	db    *database.DB
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

// NewActionTokenRepository creates a new ActionTokenRepository
func NewActionTokenRepository(db *database.DB) *ActionTokenRepository {
	return &ActionTokenRepository{db: db, pool: db.Pool, retry: database.DefaultRetryPolicy}
}

func scanActionTokenRow(row rowScanner) (*models.ActionToken, error) {
	var token models.ActionToken
	err := row.Scan(
		&token.ID, &token.UserID, &token.Purpose, &token.TokenHash, &token.Email,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &token, nil
}

// Create stores a new token and invalidates earlier unused tokens of the same
// purpose for the user, so only the latest mailed link works.
func (r *ActionTokenRepository) Create(ctx context.Context, userID, purpose, tokenHash, email string, expiresAt time.Time) (*models.ActionToken, error) {
	var token *models.ActionToken

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE action_tokens SET used_at = NOW()
			WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
		`, userID, purpose); err != nil {
			return database.MapPostgresError(err)
		}

		var err error
		token, err = scanActionTokenRow(tx.QueryRow(ctx, `
			INSERT INTO action_tokens (user_id, purpose, token_hash, email, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+actionTokenColumns,
			userID, purpose, tokenHash, email, expiresAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s token: %w", purpose, database.MapPostgresError(err))
	}

	return token, nil
}

// GetByTokenHash retrieves a token of the given purpose by its hash
func (r *ActionTokenRepository) GetByTokenHash(ctx context.Context, purpose, tokenHash string) (*models.ActionToken, error) {
	query := `SELECT ` + actionTokenColumns + ` FROM action_tokens WHERE token_hash = $1 AND purpose = $2`

	var token *models.ActionToken
	err := database.ReadWithRetry(ctx, r.retry, func(ctx context.Context) error {
		var err error
		token, err = scanActionTokenRow(r.pool.QueryRow(ctx, query, tokenHash, purpose))
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// execOne runs a single-row mutation inside tx and maps a zero row count to ErrNotFound
func execOne(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// markUsed consumes the token. It fails with ErrNotFound if the token was
// already used or has expired, making consumption single-winner.
func markUsed(ctx context.Context, tx pgx.Tx, id string) error {
	return execOne(ctx, tx, `
		UPDATE action_tokens SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL AND expires_at > NOW()
	`, id)
}

// RedeemPasswordReset consumes a reset token and, in the same transaction,
// stores the new password hash, lifts any lockout and revokes every refresh
// token of the user. Nothing is written unless every step succeeds; a token
// already consumed or a missing user fails with ErrNotFound.
func (r *ActionTokenRepository) RedeemPasswordReset(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) (int64, error) {
	var revoked int64
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := markUsed(ctx, tx, tokenID); err != nil {
			return err
		}
		if err := execOne(ctx, tx, `
			UPDATE users SET
				password_hash = $2,
				password_changed_at = $3,
				failed_login_attempts = 0,
				locked_until = NULL,
				updated_at = $3
			WHERE id = $1
		`, userID, passwordHash, changedAt); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID, changedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}
		revoked = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return revoked, nil
}

// RedeemEmailVerification consumes a verification token and marks the address
// verified in one transaction. It fails with ErrNotFound when the token was
// already consumed or the user no longer has the address the token was minted for.
func (r *ActionTokenRepository) RedeemEmailVerification(ctx context.Context, tokenID, userID, email string) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := markUsed(ctx, tx, tokenID); err != nil {
			return err
		}
		return execOne(ctx, tx, `
			UPDATE users SET email_verified = TRUE, updated_at = NOW()
			WHERE id = $1 AND LOWER(email) = LOWER($2)
		`, userID, email)
	})
	return database.MapPostgresError(err)
}

// CleanupExpired deletes tokens that expired or were used more than a day ago
func (r *ActionTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM action_tokens
		WHERE expires_at < NOW() - INTERVAL '1 day'
			OR used_at < NOW() - INTERVAL '1 day'
	`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
