package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"elearning-marketplace/backend/internal/policy/domain"
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

var policyCols = []string{"id", "name", "rules", "enabled", "created_at", "updated_at"}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM policies WHERE id = \$1`).WithArgs("p1").WillReturnError(sql.ErrNoRows)

	p, err := repo.GetByID(context.Background(), "p1")
	if err != nil || p != nil {
		t.Fatalf("GetByID = %v, %v; want nil, nil", p, err)
	}
}

func TestListEnabled(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM policies WHERE enabled ORDER BY name`).
		WillReturnRows(sqlmock.NewRows(policyCols).
			AddRow("p1", "a.rego", "package a", true, now, now).
			AddRow("p2", "b.rego", "package b", true, now, now))

	list, err := repo.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a.rego" || list[1].Rules != "package b" {
		t.Fatalf("list = %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAndUpdate(t *testing.T) {
	repo, mock := newMock(t)
	p, err := domain.New("custom", "package elearn.authz", time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mock.ExpectExec(`INSERT INTO policies`).
		WithArgs(p.ID, "custom.rego", p.Rules, true, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE policies SET rules = \$2, enabled = \$3`).
		WithArgs(p.ID, p.Rules, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.Enabled = false
	p.UpdatedAt = time.Now()
	if err := repo.Update(context.Background(), p); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
