package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"elearning-marketplace/backend/internal/db"
	"elearning-marketplace/backend/internal/enrollment/domain"
)

const enrollmentColumns = `id, student_id, course_id, status, enrolled_at, completed_at, progress_percentage,
	amount_paid_minor, certificate_issued, certificate_url, notes, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an enrollment repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts e.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.StudentID, e.CourseID, string(e.Status), db.NullTime(e.EnrolledAt), db.NullTime(e.CompletedAt),
		e.ProgressPercentage, e.AmountPaidMinor, e.CertificateIssued, e.CertificateURL, e.Notes, e.CreatedAt, e.UpdatedAt)
	return mapUniqueActive(err)
}

// GetByID returns the enrollment, or nil.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	return scanEnrollment(r.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id))
}

// GetByIDForUpdate returns the enrollment with a row lock held, or nil.
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Enrollment, error) {
	return scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1 FOR UPDATE`, id))
}

// FindLatest returns the newest enrollment for the pair in one of statuses, or nil.
func (r *PostgresRepository) FindLatest(ctx context.Context, studentID, courseID string, statuses ...domain.Status) (*domain.Enrollment, error) {
	args := []any{studentID, courseID}
	placeholders := make([]string, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		if s == domain.StatusPending {
			args = append(args, "")
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
	}
	if len(placeholders) == 0 {
		return nil, nil
	}
	return scanEnrollment(r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE student_id = $1 AND course_id = $2 AND status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at DESC
		LIMIT 1`, args...))
}

// Update writes every mutable column of e.
func (r *PostgresRepository) Update(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = $2, enrolled_at = $3, completed_at = $4, progress_percentage = $5, amount_paid_minor = $6,
		    certificate_issued = $7, certificate_url = $8, notes = $9, updated_at = $10
		WHERE id = $1`,
		e.ID, string(e.Status), db.NullTime(e.EnrolledAt), db.NullTime(e.CompletedAt), e.ProgressPercentage,
		e.AmountPaidMinor, e.CertificateIssued, e.CertificateURL, e.Notes, e.UpdatedAt)
	return mapUniqueActive(err)
}

func mapUniqueActive(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "enrollments_one_active_idx" {
		return ErrActiveExists
	}
	return err
}

func scanEnrollment(row *sql.Row) (*domain.Enrollment, error) {
	var (
		e                       domain.Enrollment
		status                  string
		enrolledAt, completedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &status, &enrolledAt, &completedAt, &e.ProgressPercentage,
		&e.AmountPaidMinor, &e.CertificateIssued, &e.CertificateURL, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Status = domain.Status(status)
	e.EnrolledAt = db.TimePtr(enrolledAt)
	e.CompletedAt = db.TimePtr(completedAt)
	return &e, nil
}
