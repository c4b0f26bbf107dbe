// Package uow groups the repositories that the payment and enrollment state machines mutate
// together, so a status write and its side effects commit or roll back as one.
package uow

import (
	"context"
	"database/sql"

	courserepo "elearning-marketplace/backend/internal/course/repository"
	"elearning-marketplace/backend/internal/db"
	enrollmentrepo "elearning-marketplace/backend/internal/enrollment/repository"
	paymentrepo "elearning-marketplace/backend/internal/payment/repository"
)

// Repos is a set of repositories bound to one connection or transaction.
type Repos interface {
	Courses() courserepo.Repository
	Enrollments() enrollmentrepo.Repository
	Transactions() paymentrepo.Repository
}

// Manager hands out repositories and runs functions atomically.
type Manager interface {
	// Repos returns repositories outside any transaction.
	Repos() Repos
	// WithinTx runs fn in a transaction; fn's error rolls everything back.
	// Calls must not be nested.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type pgRepos struct {
	courses      *courserepo.PostgresRepository
	enrollments  *enrollmentrepo.PostgresRepository
	transactions *paymentrepo.PostgresRepository
}

func newPGRepos(conn db.DBTX) *pgRepos {
	return &pgRepos{
		courses:      courserepo.NewPostgresRepository(conn),
		enrollments:  enrollmentrepo.NewPostgresRepository(conn),
		transactions: paymentrepo.NewPostgresRepository(conn),
	}
}

func (r *pgRepos) Courses() courserepo.Repository         { return r.courses }
func (r *pgRepos) Enrollments() enrollmentrepo.Repository { return r.enrollments }
func (r *pgRepos) Transactions() paymentrepo.Repository   { return r.transactions }

// PostgresManager implements Manager over a *sql.DB.
type PostgresManager struct {
	db   *sql.DB
	base *pgRepos
}

// NewPostgresManager returns a Manager over sqlDB.
func NewPostgresManager(sqlDB *sql.DB) *PostgresManager {
	return &PostgresManager{db: sqlDB, base: newPGRepos(sqlDB)}
}

func (m *PostgresManager) Repos() Repos { return m.base }

// WithinTx uses READ COMMITTED; per-row ordering comes from SELECT ... FOR UPDATE and
// conditional UPDATEs in the repositories.
func (m *PostgresManager) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.WithTx(ctx, m.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, newPGRepos(tx))
	})
}
