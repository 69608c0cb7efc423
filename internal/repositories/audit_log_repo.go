package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/database"
	"github.com/BradenHooton/lineage-auth/internal/models"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAuditRetention applies when no retention is configured
const DefaultAuditRetention = 90 * 24 * time.Hour

const auditLogColumns = `id, category, event_type, user_id, session_id, ip_address, user_agent,
	success, failure_reason, metadata, created_at`

// AuditLogRepository persists audit events and expires them after the retention period
type AuditLogRepository struct {
	pool      *pgxpool.Pool
	retry     database.RetryPolicy
	retention time.Duration
	now       func() time.Time
}

// NewAuditLogRepository creates a new AuditLogRepository. A non-positive
// retention falls back to DefaultAuditRetention.
func NewAuditLogRepository(db *database.DB, retention time.Duration) *AuditLogRepository {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &AuditLogRepository{pool: db.Pool, retry: database.DefaultRetryPolicy, retention: retention, now: time.Now}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog
	err := row.Scan(
		&log.ID, &log.Category, &log.EventType, &log.UserID, &log.SessionID, &log.IPAddress, &log.UserAgent,
		&log.Success, &log.FailureReason, &log.Metadata, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if log.Metadata == nil {
		log.Metadata = map[string]string{}
	}
	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return logs, nil
}

// optional maps "" to NULL
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PersistAudit stores one audit record
func (r *AuditLogRepository) PersistAudit(ctx context.Context, rec pkglogger.AuditRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (category, event_type, user_id, session_id, ip_address, user_agent,
			success, failure_reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.Category, rec.EventType, optional(rec.UserID), optional(rec.SessionID),
		optional(rec.IPAddress), optional(rec.UserAgent),
		rec.Success, optional(rec.FailureReason), metadata, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist %s audit event: %w", rec.EventType, database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns the newest limit events of userID
func (r *AuditLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditLogColumns + ` FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var logs []*models.AuditLog
	err := database.ReadWithRetry(ctx, r.retry, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, userID, limit)
		if err != nil {
			return database.MapPostgresError(err)
		}
		logs, err = scanAuditLogRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// CleanupExpired deletes events older than the retention period
func (r *AuditLogRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, r.now().Add(-r.retention))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
