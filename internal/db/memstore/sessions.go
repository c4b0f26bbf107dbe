package memstore

import (
	"context"
	"errors"
	"time"

	sessiondomain "elearning-marketplace/backend/internal/session/domain"
	sessionrepo "elearning-marketplace/backend/internal/session/repository"
)

var errDuplicateRefreshHash = errors.New("memstore: duplicate refresh hash")

// Sessions implements the session repository. Rotate is a compare-and-swap on Version.
type Sessions struct{ s *Store }

func (r *Sessions) Create(ctx context.Context, sess *sessiondomain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sessions {
		if existing.RefreshHash == sess.RefreshHash {
			return errDuplicateRefreshHash
		}
	}
	r.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (r *Sessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	var out *sessiondomain.Session
	r.s.read(func() { out = cloneSession(r.s.sessions[id]) })
	return out, nil
}

func (r *Sessions) GetByRefreshHash(ctx context.Context, hash string) (*sessiondomain.Session, error) {
	return r.find(func(s *sessiondomain.Session) bool { return s.RefreshHash == hash }), nil
}

func (r *Sessions) GetByPreviousRefreshHash(ctx context.Context, hash string) (*sessiondomain.Session, error) {
	if hash == "" {
		return nil, nil
	}
	return r.find(func(s *sessiondomain.Session) bool { return s.PreviousRefreshHash == hash }), nil
}

func (r *Sessions) find(match func(*sessiondomain.Session) bool) *sessiondomain.Session {
	var out *sessiondomain.Session
	r.s.read(func() {
		for _, s := range r.s.sessions {
			if match(s) {
				out = cloneSession(s)
				return
			}
		}
	})
	return out
}

func (r *Sessions) Rotate(ctx context.Context, id string, expectedVersion int64, newHash string, usedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok || s.Version != expectedVersion || s.Revoked || !s.ExpiresAt.After(usedAt) {
		return false, nil
	}
	for _, other := range r.s.sessions {
		if other.ID != id && other.RefreshHash == newHash {
			return false, errDuplicateRefreshHash
		}
	}
	s.PreviousRefreshHash = s.RefreshHash
	s.RefreshHash = newHash
	s.LastUsedAt = usedAt
	s.Version++
	return true, nil
}

func (r *Sessions) Revoke(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if s, ok := r.s.sessions[id]; ok {
		revoke(s, at)
	}
	return nil
}

func (r *Sessions) RevokeAllByUser(ctx context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.sessions {
		if s.UserID == userID {
			revoke(s, at)
		}
	}
	return nil
}

func revoke(s *sessiondomain.Session, at time.Time) {
	s.Revoked = true
	if s.RevokedAt == nil {
		t := at
		s.RevokedAt = &t
	}
}

func (r *Sessions) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if s, ok := r.s.sessions[id]; ok && at.After(s.LastUsedAt) {
		s.LastUsedAt = at
	}
	return nil
}

var _ sessionrepo.Repository = (*Sessions)(nil)
