package memstore

import (
	"context"
	"time"

	userdomain "elearning-marketplace/backend/internal/user/domain"
	userrepo "elearning-marketplace/backend/internal/user/repository"
)

// Users implements the user repository.
type Users struct{ s *Store }

func (r *Users) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	var out *userdomain.User
	r.s.read(func() { out = cloneUser(r.s.users[id]) })
	return out, nil
}

func (r *Users) GetByIdentifier(ctx context.Context, identifier string) (*userdomain.User, error) {
	ident := userdomain.NormalizeIdentifier(identifier)
	var out *userdomain.User
	r.s.read(func() {
		for _, u := range r.s.users {
			if u.Email == ident || u.Username == ident {
				out = cloneUser(u)
				return
			}
		}
	})
	return out, nil
}

func (r *Users) Create(ctx context.Context, u *userdomain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.ID == u.ID || existing.Email == u.Email || existing.Username == u.Username {
			return userrepo.ErrDuplicate
		}
	}
	r.s.users[u.ID] = cloneUser(u)
	return nil
}

func (r *Users) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		u.PasswordHash = hash
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

var _ userrepo.Repository = (*Users)(nil)
