package memstore

import (
	"context"
	"slices"

	enrollmentdomain "elearning-marketplace/backend/internal/enrollment/domain"
	enrollmentrepo "elearning-marketplace/backend/internal/enrollment/repository"
)

// Enrollments implements the enrollment repository, including the one-ACTIVE-per-pair index.
type Enrollments struct {
	s    *Store
	inTx bool
}

func (r *Enrollments) Create(ctx context.Context, e *enrollmentdomain.Enrollment) error {
	return r.s.write(r.inTx, func() error {
		if _, ok := r.s.enrollments[e.ID]; ok {
			return errDuplicateID
		}
		if r.activeConflict(e) {
			return enrollmentrepo.ErrActiveExists
		}
		r.s.enrollments[e.ID] = cloneEnrollment(e)
		r.s.enrolSeq[e.ID] = r.s.nextSeq()
		return nil
	})
}

func (r *Enrollments) GetByID(ctx context.Context, id string) (*enrollmentdomain.Enrollment, error) {
	var out *enrollmentdomain.Enrollment
	r.s.read(func() { out = cloneEnrollment(r.s.enrollments[id]) })
	return out, nil
}

// GetByIDForUpdate is GetByID: transactions already hold the store exclusively.
func (r *Enrollments) GetByIDForUpdate(ctx context.Context, id string) (*enrollmentdomain.Enrollment, error) {
	return r.GetByID(ctx, id)
}

func (r *Enrollments) FindLatest(ctx context.Context, studentID, courseID string, statuses ...enrollmentdomain.Status) (*enrollmentdomain.Enrollment, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var (
		best    *enrollmentdomain.Enrollment
		bestSeq int64
	)
	r.s.read(func() {
		for id, e := range r.s.enrollments {
			if e.StudentID != studentID || e.CourseID != courseID || !slices.Contains(statuses, e.Status.Normalize()) {
				continue
			}
			seq := r.s.enrolSeq[id]
			if best == nil || e.CreatedAt.After(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && seq > bestSeq) {
				best, bestSeq = e, seq
			}
		}
		best = cloneEnrollment(best)
	})
	return best, nil
}

func (r *Enrollments) Update(ctx context.Context, e *enrollmentdomain.Enrollment) error {
	return r.s.write(r.inTx, func() error {
		cur, ok := r.s.enrollments[e.ID]
		if !ok {
			return nil
		}
		if r.activeConflict(e) {
			return enrollmentrepo.ErrActiveExists
		}
		// student and course are immutable, as in the SQL UPDATE
		next := cloneEnrollment(e)
		next.StudentID, next.CourseID, next.CreatedAt = cur.StudentID, cur.CourseID, cur.CreatedAt
		r.s.enrollments[e.ID] = next
		return nil
	})
}

// activeConflict reports whether e being ACTIVE would duplicate another ACTIVE row. Caller holds mu.
func (r *Enrollments) activeConflict(e *enrollmentdomain.Enrollment) bool {
	if e.Status != enrollmentdomain.StatusActive {
		return false
	}
	for id, other := range r.s.enrollments {
		if id != e.ID && other.Status == enrollmentdomain.StatusActive &&
			other.StudentID == e.StudentID && other.CourseID == e.CourseID {
			return true
		}
	}
	return false
}

var _ enrollmentrepo.Repository = (*Enrollments)(nil)
