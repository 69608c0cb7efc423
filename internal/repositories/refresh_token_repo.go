package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/database"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const refreshTokenColumns = `id, user_id, token_jti, expires_at, created_at, revoked_at,
	ip_address, user_agent, session_id, device_fingerprint, location_info`

// RefreshTokenRepository is the durable registry of outstanding refresh tokens
type RefreshTokenRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
	now   func() time.Time
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: db.Pool, retry: database.DefaultRetryPolicy, now: time.Now}
}

func scanRefreshTokenRow(row rowScanner) (*models.RefreshTokenRecord, error) {
	var rec models.RefreshTokenRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TokenJTI, &rec.ExpiresAt, &rec.CreatedAt, &rec.RevokedAt,
		&rec.IPAddress, &rec.UserAgent, &rec.SessionID, &rec.DeviceFingerprint, &rec.LocationInfo,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func scanRefreshTokenRows(rows pgx.Rows) ([]*models.RefreshTokenRecord, error) {
	defer rows.Close()

	records := make([]*models.RefreshTokenRecord, 0)
	for rows.Next() {
		rec, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return records, nil
}

// Create inserts a new active record. A reused JTI is rejected with ErrConflict.
func (r *RefreshTokenRepository) Create(ctx context.Context, rec *models.RefreshTokenRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = r.now().UTC()

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_jti, expires_at, created_at,
			ip_address, user_agent, session_id, device_fingerprint, location_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.TokenJTI, rec.ExpiresAt, rec.CreatedAt,
		rec.IPAddress, rec.UserAgent, rec.SessionID, rec.DeviceFingerprint, rec.LocationInfo,
	)
	return database.MapPostgresError(err)
}

// LookupActive returns the record for jti only while it is neither revoked nor expired
func (r *RefreshTokenRepository) LookupActive(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE token_jti = $1 AND revoked_at IS NULL AND expires_at > $2`

	var rec *models.RefreshTokenRecord
	err := database.ReadWithRetry(ctx, r.retry, func(ctx context.Context) error {
		var err error
		rec, err = scanRefreshTokenRow(r.pool.QueryRow(ctx, query, jti, r.now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Revoke marks the record revoked. Revoking an already revoked record is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, rec *models.RefreshTokenRecord) error {
	_, err := r.RevokeIfActive(ctx, rec.TokenJTI)
	return err
}

// RevokeIfActive revokes jti only if it is still active and reports whether
// this call performed the revocation. Concurrent callers see exactly one winner.
func (r *RefreshTokenRepository) RevokeIfActive(ctx context.Context, jti string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token_jti = $1 AND revoked_at IS NULL AND expires_at > $2
	`, jti, r.now())
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAllForUser revokes every active record of userID except exceptJTI (if non-empty)
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, exceptJTI string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3
		WHERE user_id = $1 AND revoked_at IS NULL AND ($2 = '' OR token_jti <> $2)
	`, userID, exceptJTI, r.now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ListActiveForUser returns the user's active records, newest first
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshTokenRecord, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`

	var records []*models.RefreshTokenRecord
	err := database.ReadWithRetry(ctx, r.retry, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, userID, r.now())
		if err != nil {
			return database.MapPostgresError(err)
		}
		records, err = scanRefreshTokenRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CleanupExpired deletes expired or revoked records. The predicate delete is
// idempotent, so overlapping sweeps from several processes are harmless.
func (r *RefreshTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL`, r.now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
