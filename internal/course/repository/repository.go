package repository

import (
	"context"

	"elearning-marketplace/backend/internal/course/domain"
)

// Repository is the course lookup plus atomic seat-counter mutation.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Course, error)
	Create(ctx context.Context, c *domain.Course) error
	// IncrementStudents takes a seat if one is left and reports whether it did.
	IncrementStudents(ctx context.Context, id string) (bool, error)
	// DecrementStudents releases a seat, never going below zero.
	DecrementStudents(ctx context.Context, id string) error
}
