package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"elearning-marketplace/backend/internal/user/domain"
)

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

var userCols = []string{"id", "email", "username", "name", "password_hash", "role", "status", "created_at", "updated_at"}

func TestGetByIdentifier_NormalizesAndScans(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1 OR username = \$1`).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "ana@example.com", "ana", "Ana", "hash", "admin", "active", now, now))

	u, err := repo.GetByIdentifier(context.Background(), " ANA@example.com ")
	if err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}
	if u == nil || u.ID != "u1" || u.Role != domain.RoleAdmin || u.Status != domain.UserStatusActive {
		t.Fatalf("user = %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u != nil {
		t.Errorf("want nil user, got %+v", u)
	}
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM users`).WillReturnError(errors.New("conn reset"))

	if _, err := repo.GetByID(context.Background(), "u1"); err == nil {
		t.Fatal("want error")
	}
}

func TestCreate(t *testing.T) {
	repo, mock := newMock(t)
	u, err := domain.NewUser("a@b.c", "ab", "A", "hash", domain.RoleStudent)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, "a@b.c", "ab", "A", "hash", "student", "active", u.CreatedAt, u.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE users SET password_hash = \$2`).
		WithArgs("u1", "new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePasswordHash(context.Background(), "u1", "new"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
}
