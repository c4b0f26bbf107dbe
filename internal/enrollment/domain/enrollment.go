package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Normalize treats the legacy empty status as PENDING.
func (s Status) Normalize() Status {
	if s == "" {
		return StatusPending
	}
	return s
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s.Normalize() {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s.Normalize()] {
		if next == to {
			return true
		}
	}
	return false
}

// Enrollment binds a student to a course. At most one ACTIVE enrollment exists per pair.
type Enrollment struct {
	ID                 string
	StudentID          string
	CourseID           string
	Status             Status
	EnrolledAt         *time.Time
	CompletedAt        *time.Time
	ProgressPercentage int
	AmountPaidMinor    int64
	CertificateIssued  bool
	CertificateURL     string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New returns a PENDING enrollment.
func New(studentID, courseID, notes string, now time.Time) *Enrollment {
	return &Enrollment{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		Status:    StatusPending,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ClampProgress bounds p to [0, 100].
func ClampProgress(p int) int {
	return min(max(p, 0), 100)
}
