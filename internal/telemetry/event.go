package telemetry

import (
	"maps"
	"time"
)

// Event types emitted by the services.
const (
	TypeSessionLogin         = "session.login"
	TypeSessionRefreshed     = "session.refreshed"
	TypeSessionLogout        = "session.logout"
	TypeSessionReuseDetected = "session.reuse_detected"
	TypePaymentStatusChanged = "payment.status_changed"
	TypePaymentPriceMismatch = "payment.price_mismatch"
	TypeWebhookUnknownStatus = "webhook.unknown_status"
	TypeWebhookStale         = "webhook.stale"
	TypeGatewayLogin         = "gateway.login"
	TypeEnrollmentActivated  = "enrollment.activated"
	TypeEnrollmentCompleted  = "enrollment.completed"
	TypeEnrollmentCancelled  = "enrollment.cancelled"
	TypeHTTPRequest          = "http.request"
)

// Event is one telemetry record. It is serialized as JSON on the Kafka topic.
type Event struct {
	Type      string `json:"eventType"`
	Source    string `json:"source"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	// Subject is the transaction or enrollment the event is about.
	Subject    string            `json:"subject,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// NewEvent returns an event of type typ from source, stamped now.
func NewEvent(typ, source string) *Event {
	return &Event{Type: typ, Source: source, CreatedAt: time.Now().UTC()}
}

// WithUser sets the user id and returns e.
func (e *Event) WithUser(userID string) *Event {
	e.UserID = userID
	return e
}

func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

func (e *Event) WithSubject(subject string) *Event {
	e.Subject = subject
	return e
}

// With adds one attribute and returns e.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// Clone returns a deep copy, so async emitters never share the attribute map with the caller.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Attributes = maps.Clone(e.Attributes)
	return &c
}
