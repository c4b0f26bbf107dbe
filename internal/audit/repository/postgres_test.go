package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"elearning-marketplace/backend/internal/audit/domain"
)

func TestCreate_AnonymousUserIsNull(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	now := time.Now()

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("a1", "warn", "payment", "webhook_unknown_status", "msg", nil, "1.2.3.4", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresRepository(sqlDB).Create(context.Background(), &domain.AuditLog{
		ID: "a1", Level: domain.LevelWarn, Module: "payment", Action: "webhook_unknown_status",
		Message: "msg", IP: "1.2.3.4", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestListByUser(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	now := time.Now()

	mock.ExpectQuery(`FROM audit_logs WHERE user_id = \$1\s+ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("u1", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "level", "module", "action", "message", "user_id", "ip", "created_at"}).
			AddRow("a2", "info", "auth", "logout", "", "u1", "ip", now).
			AddRow("a1", "info", "auth", "login", "", "u1", "ip", now.Add(-time.Minute)))

	got, err := NewPostgresRepository(sqlDB).ListByUser(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 || got[0].Action != "logout" || got[1].Level != domain.LevelInfo {
		t.Fatalf("got %+v", got)
	}
}
