package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"elearning-marketplace/backend/internal/audit"
	auditdomain "elearning-marketplace/backend/internal/audit/domain"
)

// statusRecorder captures the response status for the audit and telemetry middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Audit records one audit entry per authenticated request, named after the matched route.
// It must run inside Authenticate and outside the ServeMux so the route pattern is known.
// skipPatterns lists route patterns that are never audited (e.g. "GET /healthz").
func Audit(sink audit.LogSink, skipPatterns map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if sink == nil || r.Pattern == "" || skipPatterns[r.Pattern] {
				return
			}
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				return
			}
			ar := audit.ParseRoute(r.Pattern)
			code := rec.code()
			level := auditdomain.LevelInfo
			switch {
			case code >= http.StatusInternalServerError:
				level = auditdomain.LevelError
			case code >= http.StatusBadRequest:
				level = auditdomain.LevelWarn
			}
			sink.LogEvent(r.Context(), level, ar.Resource, ar.Action,
				fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, code), p.UserID)
		})
	}
}

// ClientIP returns the client IP from X-Forwarded-For, X-Real-IP or the peer address, or "unknown".
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		if i := strings.Index(v, ","); i > 0 {
			v = strings.TrimSpace(v[:i])
		}
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
