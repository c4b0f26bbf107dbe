package middleware

import (
	"context"
	"net/http"
	"strings"

	identityservice "elearning-marketplace/backend/internal/identity/service"
	"elearning-marketplace/backend/internal/server/httpx"
)

const bearerPrefix = "bearer "

// Authenticator resolves an access token to a principal; *identityservice.SessionManager satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identityservice.Principal, error)
}

// Authenticate attaches the client IP and, when the request carries a valid Bearer token for a
// live session, the principal. Requests without one continue anonymously; routes that need a
// caller wrap themselves in RequireAuth.
func Authenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClientIP(r.Context(), ClientIP(r))
			if token := BearerToken(r); token != "" {
				if p, err := a.Authenticate(ctx, token); err == nil {
					ctx = WithPrincipal(ctx, p)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with the uniform 401 body.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken returns the Bearer token from the Authorization header, or "" if missing or malformed.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
