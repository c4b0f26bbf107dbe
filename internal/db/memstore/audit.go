package memstore

import (
	"context"

	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	auditrepo "elearning-marketplace/backend/internal/audit/repository"
)

// Audit implements the audit log repository.
type Audit struct{ s *Store }

func (r *Audit) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, cloneAudit(a))
	return nil
}

func (r *Audit) ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var matched []*auditdomain.AuditLog
	r.s.read(func() {
		for _, a := range r.s.audit {
			if a.UserID == userID {
				matched = append(matched, cloneAudit(a))
			}
		}
	})
	matched = sortedAudit(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// All returns every entry in insertion order.
func (r *Audit) All() []*auditdomain.AuditLog {
	var out []*auditdomain.AuditLog
	r.s.read(func() {
		for _, a := range r.s.audit {
			out = append(out, cloneAudit(a))
		}
	})
	return out
}

var _ auditrepo.Repository = (*Audit)(nil)
