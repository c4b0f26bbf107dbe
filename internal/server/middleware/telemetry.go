package middleware

import (
	"net/http"
	"strconv"
	"time"

	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/telemetry"
)

// Telemetry logs each request and emits an http.request event. Emission is asynchronous and
// best-effort. Like Audit it must wrap the ServeMux directly.
func Telemetry(emitter telemetry.EventEmitter, log logging.Logger, skipPatterns map[string]bool) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if skipPatterns[r.Pattern] {
				return
			}
			elapsed := time.Since(start)
			code := rec.code()
			ctx := r.Context()
			log.Info(ctx, "http request", "method", r.Method, "route", r.Pattern, "status", code, "duration", elapsed)

			ev := telemetry.NewEvent(telemetry.TypeHTTPRequest, "http").
				With("method", r.Method).
				With("route", r.Pattern).
				With("status", strconv.Itoa(code)).
				With("duration_ms", strconv.FormatInt(elapsed.Milliseconds(), 10)).
				With("client_ip", ClientIPFrom(ctx))
			if p, ok := PrincipalFrom(ctx); ok {
				ev = ev.WithUser(p.UserID).WithSession(p.SessionID)
			}
			telemetry.EmitAsync(ctx, emitter, log, ev)
		})
	}
}

// Chain applies middleware so the first one listed is outermost.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
