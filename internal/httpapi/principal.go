package httpapi

import (
	"context"
	"net/http"
	"strings"

	"av-go/internal/av"
)

// Headers set by the upstream gateway after authenticating the caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p av.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by PrincipalFromHeaders.
func PrincipalFrom(ctx context.Context) (av.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(av.Principal)
	return p, ok
}

// PrincipalFromHeaders reads the caller's identity from the gateway headers and
// rejects the request with 401 when no user id is present.
func PrincipalFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:   "unauthenticated",
				Message: "missing " + HeaderUserID + " header",
			})
			return
		}
		p := av.Principal{ID: id, Role: strings.TrimSpace(r.Header.Get(HeaderUserRole))}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
