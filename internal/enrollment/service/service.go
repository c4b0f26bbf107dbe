// Package service implements the enrollment state machine: PENDING -> ACTIVE -> COMPLETED, and any
// non-terminal state -> CANCELLED, with course seat accounting kept in the same transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"elearning-marketplace/backend/internal/audit"
	auditdomain "elearning-marketplace/backend/internal/audit/domain"
	"elearning-marketplace/backend/internal/db/uow"
	"elearning-marketplace/backend/internal/enrollment/domain"
	enrollmentrepo "elearning-marketplace/backend/internal/enrollment/repository"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/telemetry"
)

// Sentinel errors; the HTTP layer maps them to status codes.
var (
	ErrNotFound          = errors.New("enrollment not found")
	ErrCourseUnavailable = errors.New("course is not available for enrollment")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrCourseFull        = errors.New("course is full")
	ErrInvalidTransition = errors.New("invalid enrollment status transition")
)

const module = "enrollment"

var tracer = otel.Tracer("elearning-marketplace/enrollment")

// Service owns enrollment lifecycle and course capacity.
type Service struct {
	uow    uow.Manager
	audit  audit.LogSink
	events telemetry.EventEmitter
	log    logging.Logger
	now    func() time.Time
}

// NewService returns a Service. sink, events and log may be nil.
func NewService(m uow.Manager, sink audit.LogSink, events telemetry.EventEmitter, log logging.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{uow: m, audit: sink, events: events, log: log.With("component", module), now: func() time.Time { return time.Now().UTC() }}
}

// Create registers a PENDING enrollment after checking the course is published, the student has no
// ACTIVE enrollment for it and a seat is currently free.
func (s *Service) Create(ctx context.Context, studentID, courseID, notes string) (*domain.Enrollment, error) {
	const op = "enrollment.Create"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("course_id", courseID)))
	defer span.End()

	var out *domain.Enrollment
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		course, err := r.Courses().GetByID(ctx, courseID)
		if err != nil {
			return err
		}
		if course == nil || !course.Published {
			return ErrCourseUnavailable
		}
		active, err := r.Enrollments().FindLatest(ctx, studentID, courseID, domain.StatusActive)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyEnrolled
		}
		if course.Full() {
			return ErrCourseFull
		}
		e := domain.New(studentID, courseID, notes, s.now())
		if err := r.Enrollments().Create(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap(op, err)
	}
	return out, nil
}

// Get returns the enrollment or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := s.uow.Repos().Enrollments().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("enrollment.Get: %w", err)
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Activate moves a PENDING enrollment to ACTIVE, records amountPaid and takes a course seat.
func (s *Service) Activate(ctx context.Context, id string, amountPaidMinor int64) (*domain.Enrollment, error) {
	const op = "enrollment.Activate"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var out *domain.Enrollment
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		e, err := r.Enrollments().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrNotFound
		}
		if err := s.activateLocked(ctx, r, e, amountPaidMinor); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap(op, err)
	}
	s.activated(ctx, out)
	return out, nil
}

// activateLocked requires e to be row-locked by the caller's transaction.
func (s *Service) activateLocked(ctx context.Context, r uow.Repos, e *domain.Enrollment, amountPaidMinor int64) error {
	if e.Status.Normalize() == domain.StatusActive {
		return ErrAlreadyEnrolled
	}
	if !e.Status.CanTransitionTo(domain.StatusActive) {
		return ErrInvalidTransition
	}
	other, err := r.Enrollments().FindLatest(ctx, e.StudentID, e.CourseID, domain.StatusActive)
	if err != nil {
		return err
	}
	if other != nil && other.ID != e.ID {
		return ErrAlreadyEnrolled
	}
	// The conditional increment re-checks capacity at commit time; two pending enrollments
	// racing for the last seat cannot both pass it.
	ok, err := r.Courses().IncrementStudents(ctx, e.CourseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCourseFull
	}
	now := s.now()
	e.Status = domain.StatusActive
	e.EnrolledAt = &now
	e.AmountPaidMinor = amountPaidMinor
	e.UpdatedAt = now
	if err := r.Enrollments().Update(ctx, e); err != nil {
		if errors.Is(err, enrollmentrepo.ErrActiveExists) {
			return ErrAlreadyEnrolled
		}
		return err
	}
	return nil
}

// UpdateProgress clamps percentage to [0, 100]. Reaching 100 completes the enrollment.
func (s *Service) UpdateProgress(ctx context.Context, id string, percentage int) (*domain.Enrollment, error) {
	const op = "enrollment.UpdateProgress"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var (
		out       *domain.Enrollment
		completed bool
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		e, err := r.Enrollments().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrNotFound
		}
		if e.Status.Normalize() != domain.StatusActive {
			return ErrInvalidTransition
		}
		now := s.now()
		e.ProgressPercentage = domain.ClampProgress(percentage)
		if e.ProgressPercentage == 100 {
			e.Status = domain.StatusCompleted
			e.CompletedAt = &now
			completed = true
		}
		e.UpdatedAt = now
		if err := r.Enrollments().Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap(op, err)
	}
	if completed {
		s.audit.LogEvent(ctx, auditdomain.LevelInfo, module, "completed", "enrollment "+out.ID+" completed", out.StudentID)
		telemetry.EmitAsync(ctx, s.events, s.log, telemetry.NewEvent(telemetry.TypeEnrollmentCompleted, module).
			WithUser(out.StudentID).WithSubject(out.ID).With("course_id", out.CourseID))
	}
	return out, nil
}

// Cancel moves PENDING or ACTIVE to CANCELLED, releasing the seat if it was ACTIVE.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Enrollment, error) {
	const op = "enrollment.Cancel"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var out *domain.Enrollment
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r uow.Repos) error {
		e, err := r.Enrollments().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrNotFound
		}
		if err := s.cancelLocked(ctx, r, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap(op, err)
	}
	s.cancelled(ctx, out, "cancelled by request")
	return out, nil
}

func (s *Service) cancelLocked(ctx context.Context, r uow.Repos, e *domain.Enrollment) error {
	prev := e.Status.Normalize()
	if !prev.CanTransitionTo(domain.StatusCancelled) {
		return ErrInvalidTransition
	}
	if prev == domain.StatusActive {
		if err := r.Courses().DecrementStudents(ctx, e.CourseID); err != nil {
			return err
		}
	}
	e.Status = domain.StatusCancelled
	e.UpdatedAt = s.now()
	return r.Enrollments().Update(ctx, e)
}

// ActivateForPayment runs inside the caller's transaction when a payment completes. It reuses an
// ACTIVE or COMPLETED enrollment for the pair without taking another seat, otherwise activates the
// newest PENDING one or creates and activates a new one. activated reports whether a seat was taken.
func (s *Service) ActivateForPayment(ctx context.Context, r uow.Repos, studentID, courseID string, amountPaidMinor int64) (e *domain.Enrollment, activated bool, err error) {
	existing, err := r.Enrollments().FindLatest(ctx, studentID, courseID, domain.StatusActive, domain.StatusCompleted)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	pending, err := r.Enrollments().FindLatest(ctx, studentID, courseID, domain.StatusPending)
	if err != nil {
		return nil, false, err
	}
	if pending != nil {
		if e, err = r.Enrollments().GetByIDForUpdate(ctx, pending.ID); err != nil {
			return nil, false, err
		}
	}
	if e == nil {
		e = domain.New(studentID, courseID, "created on payment", s.now())
		if err := r.Enrollments().Create(ctx, e); err != nil {
			return nil, false, err
		}
	}
	if err := s.activateLocked(ctx, r, e, amountPaidMinor); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// CancelForRefund runs inside the caller's transaction when a payment is refunded. A COMPLETED
// enrollment is left as is; a missing or already CANCELLED one is a no-op.
func (s *Service) CancelForRefund(ctx context.Context, r uow.Repos, enrollmentID string) (*domain.Enrollment, bool, error) {
	e, err := r.Enrollments().GetByIDForUpdate(ctx, enrollmentID)
	if err != nil || e == nil {
		return nil, false, err
	}
	if e.Status.Terminal() {
		if e.Status == domain.StatusCompleted {
			s.log.Warn(ctx, "refund on completed enrollment; leaving it completed", "enrollment_id", e.ID)
		}
		return e, false, nil
	}
	if err := s.cancelLocked(ctx, r, e); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Activated records the audit entry and event for an enrollment activated inside another
// service's transaction, after that transaction commits.
func (s *Service) Activated(ctx context.Context, e *domain.Enrollment) { s.activated(ctx, e) }

// Cancelled is the post-commit counterpart of CancelForRefund.
func (s *Service) Cancelled(ctx context.Context, e *domain.Enrollment, reason string) {
	s.cancelled(ctx, e, reason)
}

func (s *Service) activated(ctx context.Context, e *domain.Enrollment) {
	if e == nil {
		return
	}
	s.audit.LogEvent(ctx, auditdomain.LevelInfo, module, "activated",
		fmt.Sprintf("enrollment %s activated for course %s", e.ID, e.CourseID), e.StudentID)
	telemetry.EmitAsync(ctx, s.events, s.log, telemetry.NewEvent(telemetry.TypeEnrollmentActivated, module).
		WithUser(e.StudentID).WithSubject(e.ID).With("course_id", e.CourseID))
}

func (s *Service) cancelled(ctx context.Context, e *domain.Enrollment, reason string) {
	if e == nil {
		return
	}
	s.audit.LogEvent(ctx, auditdomain.LevelInfo, module, "cancelled",
		fmt.Sprintf("enrollment %s cancelled: %s", e.ID, reason), e.StudentID)
	telemetry.EmitAsync(ctx, s.events, s.log, telemetry.NewEvent(telemetry.TypeEnrollmentCancelled, module).
		WithUser(e.StudentID).WithSubject(e.ID).With("reason", reason))
}

// wrap keeps sentinels unwrapped-comparable while adding the op for everything else.
func wrap(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCourseUnavailable), errors.Is(err, ErrAlreadyEnrolled),
		errors.Is(err, ErrCourseFull), errors.Is(err, ErrInvalidTransition):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
