package domain

import "strings"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is a legal edge. Staying in place is not an edge.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// gatewayStatuses maps the gateway vocabulary (lower-cased) to internal states.
var gatewayStatuses = map[string]Status{
	"aceptada":   StatusCompleted,
	"aprobada":   StatusCompleted,
	"approved":   StatusCompleted,
	"accepted":   StatusCompleted,
	"rechazada":  StatusFailed,
	"rejected":   StatusFailed,
	"fallida":    StatusFailed,
	"failed":     StatusFailed,
	"cancelada":  StatusCancelled,
	"cancelled":  StatusCancelled,
	"canceled":   StatusCancelled,
	"abandonada": StatusCancelled,
	"pendiente":  StatusPending,
	"pending":    StatusPending,
	"procesando": StatusProcessing,
	"processing": StatusProcessing,
	"reversada":  StatusRefunded,
	"refunded":   StatusRefunded,
}

// MapGatewayStatus translates an external status string. Unknown values return (StatusPending, false):
// callers must leave the transaction where it is and raise a warning rather than guess.
func MapGatewayStatus(raw string) (Status, bool) {
	s, ok := gatewayStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return StatusPending, false
	}
	return s, true
}
