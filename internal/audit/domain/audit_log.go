package domain

import "time"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// AuditLog is one persisted audit event. UserID is empty for anonymous events.
type AuditLog struct {
	ID        string
	Level     Level
	Module    string
	Action    string
	Message   string
	UserID    string
	IP        string
	CreatedAt time.Time
}
