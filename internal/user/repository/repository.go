package repository

import (
	"context"
	"errors"

	"elearning-marketplace/backend/internal/user/domain"
)

// ErrDuplicate is returned by Create when the email or username is taken.
var ErrDuplicate = errors.New("user already exists")

// Repository defines persistence for users. Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByIdentifier matches the normalized identifier against email or username.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}
