package memstore

import (
	"context"
	"errors"

	coursedomain "elearning-marketplace/backend/internal/course/domain"
	courserepo "elearning-marketplace/backend/internal/course/repository"
)

var errDuplicateID = errors.New("memstore: duplicate id")

// Courses implements the course repository.
type Courses struct {
	s    *Store
	inTx bool
}

func (r *Courses) GetByID(ctx context.Context, id string) (*coursedomain.Course, error) {
	var out *coursedomain.Course
	r.s.read(func() { out = cloneCourse(r.s.courses[id]) })
	return out, nil
}

func (r *Courses) Create(ctx context.Context, c *coursedomain.Course) error {
	return r.s.write(r.inTx, func() error {
		if _, ok := r.s.courses[c.ID]; ok {
			return errDuplicateID
		}
		r.s.courses[c.ID] = cloneCourse(c)
		return nil
	})
}

// IncrementStudents takes a seat only while current < max, mirroring the conditional UPDATE.
func (r *Courses) IncrementStudents(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.s.write(r.inTx, func() error {
		c, found := r.s.courses[id]
		if !found || c.Full() {
			return nil
		}
		c.CurrentStudents++
		ok = true
		return nil
	})
	return ok, err
}

func (r *Courses) DecrementStudents(ctx context.Context, id string) error {
	return r.s.write(r.inTx, func() error {
		if c, ok := r.s.courses[id]; ok && c.CurrentStudents > 0 {
			c.CurrentStudents--
		}
		return nil
	})
}

var _ courserepo.Repository = (*Courses)(nil)
