package repository

import (
	"context"
	"errors"

	"elearning-marketplace/backend/internal/enrollment/domain"
)

// ErrActiveExists is returned when a write would leave two ACTIVE enrollments for one student and course.
var ErrActiveExists = errors.New("active enrollment already exists")

// Repository defines persistence for enrollments. Lookups return (nil, nil) when no row matches.
type Repository interface {
	Create(ctx context.Context, e *domain.Enrollment) error
	GetByID(ctx context.Context, id string) (*domain.Enrollment, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Enrollment, error)
	// FindLatest returns the most recent enrollment for the pair whose status is one of statuses.
	// The legacy empty status matches StatusPending.
	FindLatest(ctx context.Context, studentID, courseID string, statuses ...domain.Status) (*domain.Enrollment, error)
	Update(ctx context.Context, e *domain.Enrollment) error
}
