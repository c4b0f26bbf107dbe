package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"elearning-marketplace/backend/internal/enrollment/domain"
)

var enrollmentCols = []string{"id", "student_id", "course_id", "status", "enrolled_at", "completed_at",
	"progress_percentage", "amount_paid_minor", "certificate_issued", "certificate_url", "notes", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestGetByIDForUpdate_Locks(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM enrollments WHERE id = \$1 FOR UPDATE`).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(enrollmentCols).
			AddRow("e1", "u1", "c1", "ACTIVE", now, nil, 40, int64(5000), false, "", "", now, now))

	e, err := repo.GetByIDForUpdate(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetByIDForUpdate: %v", err)
	}
	if e.Status != domain.StatusActive || e.EnrolledAt == nil || e.CompletedAt != nil || e.ProgressPercentage != 40 {
		t.Fatalf("enrollment = %+v", e)
	}
}

func TestFindLatest_PendingIncludesLegacyEmpty(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`WHERE student_id = \$1 AND course_id = \$2 AND status IN \(\$3, \$4, \$5\)\s+ORDER BY created_at DESC`).
		WithArgs("u1", "c1", "PENDING", "", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(enrollmentCols))

	e, err := repo.FindLatest(context.Background(), "u1", "c1", domain.StatusPending, domain.StatusActive)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if e != nil {
		t.Errorf("want nil, got %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestFindLatest_NoStatuses(t *testing.T) {
	repo, _ := newMock(t)
	e, err := repo.FindLatest(context.Background(), "u1", "c1")
	if err != nil || e != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", e, err)
	}
}

func TestCreateAndUpdate(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	e := domain.New("u1", "c1", "note", now)

	mock.ExpectExec(`INSERT INTO enrollments`).
		WithArgs(e.ID, "u1", "c1", "PENDING", nil, nil, 0, int64(0), false, "", "note", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE enrollments\s+SET status = \$2`).
		WithArgs(e.ID, "ACTIVE", now, nil, 0, int64(9900), false, "", "note", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.Status = domain.StatusActive
	e.EnrolledAt = &now
	e.AmountPaidMinor = 9900
	if err := repo.Update(context.Background(), e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUpdate_SecondActiveMapsToErrActiveExists(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectExec(`UPDATE enrollments`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "enrollments_one_active_idx"})

	e := &domain.Enrollment{ID: "e2", StudentID: "u1", CourseID: "c1", Status: domain.StatusActive, UpdatedAt: now}
	if err := repo.Update(context.Background(), e); !errors.Is(err, ErrActiveExists) {
		t.Fatalf("Update err = %v, want ErrActiveExists", err)
	}
}
