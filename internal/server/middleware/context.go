package middleware

import (
	"context"

	identityservice "elearning-marketplace/backend/internal/identity/service"
)

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	clientIPKey  = contextKey{"client_ip"}
)

// WithPrincipal returns a context carrying the authenticated caller.
func WithPrincipal(ctx context.Context, p *identityservice.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the authenticated caller and true if set; otherwise nil, false.
func PrincipalFrom(ctx context.Context) (*identityservice.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*identityservice.Principal)
	return p, ok && p != nil
}

// WithClientIP returns a context carrying the request's client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFrom returns the client IP stored by Authenticate, or "unknown".
// It satisfies audit.IPExtractor.
func ClientIPFrom(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}
