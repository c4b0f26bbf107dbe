package repository

import (
	"context"
	"database/sql"

	"elearning-marketplace/backend/internal/audit/domain"
	"elearning-marketplace/backend/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts a.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, level, module, action, message, user_id, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, string(a.Level), a.Module, a.Action, a.Message, db.NullString(a.UserID), a.IP, a.CreatedAt)
	return err
}

// ListByUser returns up to limit entries for userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, level, module, action, message, user_id, ip, created_at
		FROM audit_logs WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a      domain.AuditLog
			level  string
			userID sql.NullString
		)
		if err := rows.Scan(&a.ID, &level, &a.Module, &a.Action, &a.Message, &userID, &a.IP, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Level = domain.Level(level)
		a.UserID = userID.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
