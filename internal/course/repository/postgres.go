package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"elearning-marketplace/backend/internal/course/domain"
	"elearning-marketplace/backend/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a course repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the course, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	var (
		c          domain.Course
		instructor sql.NullString
		max        sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, instructor_id, price_minor, currency, published, current_students, max_students,
		       created_at, updated_at
		FROM courses WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &instructor, &c.PriceMinor, &c.Currency, &c.Published, &c.CurrentStudents, &max,
			&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.InstructorID = instructor.String
	if max.Valid {
		m := int(max.Int64)
		c.MaxStudents = &m
	}
	return &c, nil
}

// Create inserts c.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Course) error {
	var max sql.NullInt64
	if c.MaxStudents != nil {
		max = sql.NullInt64{Int64: int64(*c.MaxStudents), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, instructor_id, price_minor, currency, published, current_students,
		                     max_students, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Title, db.NullString(c.InstructorID), c.PriceMinor, c.Currency, c.Published, c.CurrentStudents,
		max, c.CreatedAt, c.UpdatedAt)
	return err
}

// IncrementStudents re-checks capacity in the UPDATE itself, so two activations racing
// for the last seat cannot both succeed.
func (r *PostgresRepository) IncrementStudents(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE courses
		SET current_students = current_students + 1, updated_at = $2
		WHERE id = $1 AND (max_students IS NULL OR current_students < max_students)`,
		id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DecrementStudents releases one seat, floored at zero.
func (r *PostgresRepository) DecrementStudents(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE courses
		SET current_students = GREATEST(current_students - 1, 0), updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	return err
}
