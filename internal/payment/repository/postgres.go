package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"elearning-marketplace/backend/internal/db"
	"elearning-marketplace/backend/internal/payment/domain"
)

const transactionColumns = `id, user_id, course_id, enrollment_id, reference, external_id, amount_minor, currency,
	payment_method, gateway, status, description, metadata, error_message, refund_reason, created_at, updated_at,
	completed_at, refunded_at`

const uniqueViolation = "23505"

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a transaction repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts t. A clash on external_id surfaces as ErrDuplicateExternalID.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Transaction) error {
	meta, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		t.ID, t.UserID, db.NullString(t.CourseID), db.NullString(t.EnrollmentID), t.Reference, db.NullString(t.ExternalID),
		t.AmountMinor, t.Currency, t.PaymentMethod, t.Gateway, string(t.Status), t.Description, meta, t.ErrorMessage,
		t.RefundReason, t.CreatedAt, t.UpdatedAt, db.NullTime(t.CompletedAt), db.NullTime(t.RefundedAt))
	return mapWriteError(err)
}

// GetByID returns the transaction, or nil.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference))
}

func (r *PostgresRepository) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_id = $1 FOR UPDATE`, externalID))
}

// Update writes the mutable columns. Reference, amount and ownership never change. A clash on
// external_id surfaces as ErrDuplicateExternalID.
func (r *PostgresRepository) Update(ctx context.Context, t *domain.Transaction) error {
	meta, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE transactions
		SET enrollment_id = $2, external_id = $3, status = $4, metadata = $5, error_message = $6,
		    refund_reason = $7, updated_at = $8, completed_at = $9, refunded_at = $10
		WHERE id = $1`,
		t.ID, db.NullString(t.EnrollmentID), db.NullString(t.ExternalID), string(t.Status), meta, t.ErrorMessage,
		t.RefundReason, t.UpdatedAt, db.NullTime(t.CompletedAt), db.NullTime(t.RefundedAt))
	return mapWriteError(err)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "transactions_external_id_key" {
		return ErrDuplicateExternalID
	}
	return err
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var (
		t                             domain.Transaction
		courseID, enrollmentID, extID sql.NullString
		status                        string
		meta                          []byte
		completedAt, refundedAt       sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &courseID, &enrollmentID, &t.Reference, &extID, &t.AmountMinor, &t.Currency,
		&t.PaymentMethod, &t.Gateway, &status, &t.Description, &meta, &t.ErrorMessage, &t.RefundReason,
		&t.CreatedAt, &t.UpdatedAt, &completedAt, &refundedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.CourseID = courseID.String
	t.EnrollmentID = enrollmentID.String
	t.ExternalID = extID.String
	t.Status = domain.Status(status)
	t.CompletedAt = db.TimePtr(completedAt)
	t.RefundedAt = db.TimePtr(refundedAt)
	t.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
