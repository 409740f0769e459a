package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

// Schema is applied on startup by database.InitPostgresTables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		actor_id VARCHAR(255) NOT NULL,
		actor_email VARCHAR(255) NOT NULL,
		action VARCHAR(50) NOT NULL,
		target_id VARCHAR(255),
		details TEXT,
		severity VARCHAR(20) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_severity ON audit_logs(severity)`,
}

// PostgresRepository stores the trail in the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, created_at, actor_id, actor_email, action, target_id, details, severity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.ActorID, e.ActorEmail, string(e.Action), e.TargetID, e.Details, string(e.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, actor_id, actor_email, action, COALESCE(target_id, ''), COALESCE(details, ''), severity
		 FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		var (
			e        models.AuditLog
			action   string
			severity string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorEmail, &action, &e.TargetID, &e.Details, &severity); err != nil {
			return nil, err
		}
		e.Action = models.AuditAction(action)
		e.Severity = models.Severity(severity)
		out = append(out, &e)
	}
	return out, rows.Err()
}
