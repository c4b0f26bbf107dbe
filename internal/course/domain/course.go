package domain

import "time"

// Course is referenced by enrollments and transactions. Only its pricing, publication
// state and seat counters matter to the marketplace core.
type Course struct {
	ID              string
	Title           string
	InstructorID    string
	PriceMinor      int64
	Currency        string
	Published       bool
	CurrentStudents int
	// MaxStudents is nil for unlimited capacity.
	MaxStudents *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Full reports whether no seat is left.
func (c *Course) Full() bool {
	return c.MaxStudents != nil && c.CurrentStudents >= *c.MaxStudents
}
