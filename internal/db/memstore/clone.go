package memstore

import (
	"maps"
	"time"

	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	coursedomain "elearning-marketplace/backend/internal/course/domain"
	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	paymentdomain "elearning-marketplace/backend/internal/payment/domain"
	sessiondomain "elearning-marketplace/backend/internal/session/domain"
	userdomain "elearning-marketplace/backend/internal/user/domain"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u *userdomain.User) *userdomain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneSession(s *sessiondomain.Session) *sessiondomain.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.RevokedAt = cloneTime(s.RevokedAt)
	return &c
}

func cloneCourse(v *coursedomain.Course) *coursedomain.Course {
	if v == nil {
		return nil
	}
	c := *v
	if v.MaxStudents != nil {
		m := *v.MaxStudents
		c.MaxStudents = &m
	}
	return &c
}

func cloneEnrollment(e *enrollmentdomain.Enrollment) *enrollmentdomain.Enrollment {
	if e == nil {
		return nil
	}
	c := *e
	c.EnrolledAt = cloneTime(e.EnrolledAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	return &c
}

func cloneTransaction(t *paymentdomain.Transaction) *paymentdomain.Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.RefundedAt = cloneTime(t.RefundedAt)
	return &c
}

func cloneAudit(a *auditdomain.AuditLog) *auditdomain.AuditLog {
	c := *a
	return &c
}
