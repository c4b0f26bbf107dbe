package repository

import (
	"context"
	"errors"

	"elearning-marketplace/backend/internal/payment/domain"
)

// ErrDuplicateExternalID is returned by Create when another transaction already carries the external id.
var ErrDuplicateExternalID = errors.New("duplicate external id")

// Repository defines persistence for transactions. Lookups return (nil, nil) when no row matches.
// The ForUpdate variants lock the row until the surrounding transaction ends.
type Repository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByExternalIDForUpdate(ctx context.Context, externalID string) (*domain.Transaction, error)
	Update(ctx context.Context, t *domain.Transaction) error
}
