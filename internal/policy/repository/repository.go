package repository

import (
	"context"

	"elearning-marketplace/backend/internal/policy/domain"
)

// Repository defines persistence for stored Rego policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	// ListEnabled returns enabled policies ordered by name.
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
}
