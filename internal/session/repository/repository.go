package repository

import (
	"context"
	"time"

	"elearning-marketplace/backend/internal/session/domain"
)

// Repository is the credential store for sessions. Lookups return (nil, nil) when no row matches.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	// GetByPreviousRefreshHash finds the session whose last rotated-away secret hashes to hash.
	GetByPreviousRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	// Rotate replaces the refresh hash if the session is still at expectedVersion, not revoked
	// and not expired at usedAt. It reports whether the swap happened.
	Rotate(ctx context.Context, id string, expectedVersion int64, newHash string, usedAt time.Time) (bool, error)
	// Revoke is idempotent; the first revocation time is kept.
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
