// Package memstore is an in-process implementation of every repository and of uow.Manager.
// It backs local development when DATABASE_URL is empty and the service tests.
//
// WithinTx serializes transactions on one mutex and snapshots the course, enrollment and
// transaction tables so a failed function leaves no partial writes. Writes through Repos()
// outside a transaction take the same mutex, so they never interleave with one.
package memstore

import (
	"context"
	"sort"
	"sync"

	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	coursedomain "elearning-marketplace/backend/internal/course/domain"
	courserepo "elearning-marketplace/backend/internal/course/repository"
	"elearning-marketplace/backend/internal/db/uow"
	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	enrollmentrepo "elearning-marketplace/backend/internal/enrollment/repository"
	paymentdomain "elearning-marketplace/backend/internal/payment/domain"
	paymentrepo "elearning-marketplace/backend/internal/payment/repository"
	sessiondomain "elearning-marketplace/backend/internal/session/domain"
	userdomain "elearning-marketplace/backend/internal/user/domain"
)

// Store holds all tables. The zero value is not usable; call New.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users        map[string]*userdomain.User
	sessions     map[string]*sessiondomain.Session
	courses      map[string]*coursedomain.Course
	enrollments  map[string]*enrollmentdomain.Enrollment
	transactions map[string]*paymentdomain.Transaction
	audit        []*auditdomain.AuditLog

	// seq orders rows that share a created_at timestamp.
	seq      int64
	enrolSeq map[string]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]*userdomain.User),
		sessions:     make(map[string]*sessiondomain.Session),
		courses:      make(map[string]*coursedomain.Course),
		enrollments:  make(map[string]*enrollmentdomain.Enrollment),
		transactions: make(map[string]*paymentdomain.Transaction),
		enrolSeq:     make(map[string]int64),
	}
}

// Users returns the user repository.
func (s *Store) Users() *Users { return &Users{s: s} }

// Sessions returns the session repository.
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// Audit returns the audit log repository.
func (s *Store) Audit() *Audit { return &Audit{s: s} }

// Repos returns repositories outside any transaction.
func (s *Store) Repos() uow.Repos { return &repos{s: s, inTx: false} }

// WithinTx runs fn with exclusive access to the transactional tables. If fn returns an
// error, every write it made through r is undone.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r uow.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()
	if err := fn(ctx, &repos{s: s, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

type snapshot struct {
	courses      map[string]*coursedomain.Course
	enrollments  map[string]*enrollmentdomain.Enrollment
	transactions map[string]*paymentdomain.Transaction
	enrolSeq     map[string]int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		courses:      make(map[string]*coursedomain.Course, len(s.courses)),
		enrollments:  make(map[string]*enrollmentdomain.Enrollment, len(s.enrollments)),
		transactions: make(map[string]*paymentdomain.Transaction, len(s.transactions)),
		enrolSeq:     make(map[string]int64, len(s.enrolSeq)),
	}
	for k, v := range s.courses {
		snap.courses[k] = cloneCourse(v)
	}
	for k, v := range s.enrollments {
		snap.enrollments[k] = cloneEnrollment(v)
	}
	for k, v := range s.transactions {
		snap.transactions[k] = cloneTransaction(v)
	}
	for k, v := range s.enrolSeq {
		snap.enrolSeq[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses = snap.courses
	s.enrollments = snap.enrollments
	s.transactions = snap.transactions
	s.enrolSeq = snap.enrolSeq
}

// repos binds the transactional repositories. Outside a transaction each write takes txMu.
type repos struct {
	s    *Store
	inTx bool
}

func (r *repos) Courses() courserepo.Repository         { return &Courses{s: r.s, inTx: r.inTx} }
func (r *repos) Enrollments() enrollmentrepo.Repository { return &Enrollments{s: r.s, inTx: r.inTx} }
func (r *repos) Transactions() paymentrepo.Repository   { return &Transactions{s: r.s, inTx: r.inTx} }

// write runs fn under the data lock, and also under txMu when not already in a transaction.
func (s *Store) write(inTx bool, fn func() error) error {
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// sortedAudit returns entries newest first.
func sortedAudit(in []*auditdomain.AuditLog) []*auditdomain.AuditLog {
	out := make([]*auditdomain.AuditLog, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

var (
	_ uow.Manager = (*Store)(nil)
)
