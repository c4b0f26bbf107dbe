package memstore

import (
	"context"
	"errors"

	paymentdomain "elearning-marketplace/backend/internal/payment/domain"
	paymentrepo "elearning-marketplace/backend/internal/payment/repository"
)

var errDuplicateReference = errors.New("memstore: duplicate reference")

// Transactions implements the transaction repository with unique reference and external id.
type Transactions struct {
	s    *Store
	inTx bool
}

func (r *Transactions) Create(ctx context.Context, t *paymentdomain.Transaction) error {
	return r.s.write(r.inTx, func() error {
		if _, ok := r.s.transactions[t.ID]; ok {
			return errDuplicateID
		}
		for _, other := range r.s.transactions {
			if other.Reference == t.Reference {
				return errDuplicateReference
			}
			if t.ExternalID != "" && other.ExternalID == t.ExternalID {
				return paymentrepo.ErrDuplicateExternalID
			}
		}
		r.s.transactions[t.ID] = cloneTransaction(t)
		return nil
	})
}

func (r *Transactions) GetByID(ctx context.Context, id string) (*paymentdomain.Transaction, error) {
	var out *paymentdomain.Transaction
	r.s.read(func() { out = cloneTransaction(r.s.transactions[id]) })
	return out, nil
}

func (r *Transactions) GetByIDForUpdate(ctx context.Context, id string) (*paymentdomain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *Transactions) GetByReferenceForUpdate(ctx context.Context, reference string) (*paymentdomain.Transaction, error) {
	return r.find(func(t *paymentdomain.Transaction) bool { return t.Reference == reference }), nil
}

func (r *Transactions) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*paymentdomain.Transaction, error) {
	if externalID == "" {
		return nil, nil
	}
	return r.find(func(t *paymentdomain.Transaction) bool { return t.ExternalID == externalID }), nil
}

func (r *Transactions) find(match func(*paymentdomain.Transaction) bool) *paymentdomain.Transaction {
	var out *paymentdomain.Transaction
	r.s.read(func() {
		for _, t := range r.s.transactions {
			if match(t) {
				out = cloneTransaction(t)
				return
			}
		}
	})
	return out
}

// Update writes the mutable fields of t; reference and owner are immutable.
func (r *Transactions) Update(ctx context.Context, t *paymentdomain.Transaction) error {
	return r.s.write(r.inTx, func() error {
		cur, ok := r.s.transactions[t.ID]
		if !ok {
			return nil
		}
		if t.ExternalID != "" {
			for id, other := range r.s.transactions {
				if id != t.ID && other.ExternalID == t.ExternalID {
					return paymentrepo.ErrDuplicateExternalID
				}
			}
		}
		next := cloneTransaction(t)
		next.Reference, next.UserID, next.CreatedAt = cur.Reference, cur.UserID, cur.CreatedAt
		r.s.transactions[t.ID] = next
		return nil
	})
}

var _ paymentrepo.Repository = (*Transactions)(nil)
