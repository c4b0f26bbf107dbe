package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

var courseCols = []string{"id", "title", "instructor_id", "price_minor", "currency", "published",
	"current_students", "max_students", "created_at", "updated_at"}

func TestGetByID(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM courses WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(courseCols).
			AddRow("c1", "Go", "i1", int64(15000000), "COP", true, 3, int64(30), now, now))

	c, err := repo.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if c == nil || c.PriceMinor != 15000000 || c.MaxStudents == nil || *c.MaxStudents != 30 || !c.Published {
		t.Fatalf("course = %+v", c)
	}
}

func TestGetByID_Unlimited(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM courses`).
		WillReturnRows(sqlmock.NewRows(courseCols).
			AddRow("c1", "Go", nil, int64(0), "COP", false, 0, nil, now, now))

	c, err := repo.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if c.MaxStudents != nil || c.InstructorID != "" {
		t.Errorf("course = %+v", c)
	}
}

func TestIncrementStudents(t *testing.T) {
	testCases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"seat taken", 1, true},
		{"full", 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMock(t)
			mock.ExpectExec(`current_students = current_students \+ 1.+max_students IS NULL OR current_students < max_students`).
				WithArgs("c1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := repo.IncrementStudents(context.Background(), "c1")
			if err != nil {
				t.Fatalf("IncrementStudents: %v", err)
			}
			if ok != tc.want {
				t.Errorf("ok = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestDecrementStudents(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`GREATEST\(current_students - 1, 0\)`).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DecrementStudents(context.Background(), "c1"); err != nil {
		t.Fatalf("DecrementStudents: %v", err)
	}
}
