package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"elearning-marketplace/backend/internal/db"
	"elearning-marketplace/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, refresh_hash, previous_refresh_hash, version, created_at, last_used_at,
	expires_at, revoked, revoked_at, user_agent, ip_address`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists s. The id must be set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.RefreshHash, db.NullString(s.PreviousRefreshHash), s.Version, s.CreatedAt, s.LastUsedAt,
		s.ExpiresAt, s.Revoked, db.NullTime(s.RevokedAt), s.UserAgent, s.IPAddress)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByRefreshHash returns the session currently holding hash, or nil.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_hash = $1`, hash))
}

// GetByPreviousRefreshHash returns the session that rotated hash away, or nil.
func (r *PostgresRepository) GetByPreviousRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE previous_refresh_hash = $1 LIMIT 1`, hash))
}

// Rotate is a compare-and-swap on version: concurrent refreshes of one session cannot both win.
func (r *PostgresRepository) Rotate(ctx context.Context, id string, expectedVersion int64, newHash string, usedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET previous_refresh_hash = refresh_hash,
		    refresh_hash = $3,
		    last_used_at = $4,
		    version = version + 1
		WHERE id = $1 AND version = $2 AND NOT revoked AND expires_at > $4`,
		id, expectedVersion, newHash, usedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Revoke marks the session revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2), version = version + 1
		WHERE id = $1`, id, at)
	return err
}

// RevokeAllByUser revokes every live session of userID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $2, version = version + 1
		WHERE user_id = $1 AND NOT revoked`, userID, at)
	return err
}

// TouchLastUsed bumps last_used_at without changing the version.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = GREATEST(last_used_at, $2) WHERE id = $1`, id, at)
	return err
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var (
		s         domain.Session
		prev      sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshHash, &prev, &s.Version, &s.CreatedAt, &s.LastUsedAt,
		&s.ExpiresAt, &s.Revoked, &revokedAt, &s.UserAgent, &s.IPAddress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.PreviousRefreshHash = prev.String
	s.RevokedAt = db.TimePtr(revokedAt)
	return &s, nil
}
