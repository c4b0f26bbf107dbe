// Package audit records security- and money-relevant events. Writing an audit entry is
// best-effort and never fails the operation that produced it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"elearning-marketplace/backend/internal/audit/domain"
	auditrepo "elearning-marketplace/backend/internal/audit/repository"
	"elearning-marketplace/backend/internal/logging"
)

// IPExtractor returns the client IP carried by ctx.
type IPExtractor func(context.Context) string

// LogSink is the fire-and-forget audit interface consumed by services.
type LogSink interface {
	LogEvent(ctx context.Context, level domain.Level, module, action, message, userID string)
}

// Logger implements LogSink on top of the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logging.Logger
	now         func() time.Time
}

// NewLogger returns a Logger persisting to repo. ipExtractor and log may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logging.Logger) *Logger {
	if log == nil {
		log = logging.Nop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, now: time.Now}
}

// LogEvent writes one entry. Failures are logged and swallowed.
func (l *Logger) LogEvent(ctx context.Context, level domain.Level, module, action, message, userID string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if level == "" {
		level = domain.LevelInfo
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		IP:        ip,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		l.log.Warn(ctx, "audit: failed to log event", "module", module, "action", action, "error", err)
	}
}

// Nop is a LogSink that drops everything.
type Nop struct{}

func (Nop) LogEvent(context.Context, domain.Level, string, string, string, string) {}
