// Package identity resolves the owner every request operates on. Owner
// scoping is the only isolation mechanism in the system; a request with no
// resolvable owner is rejected, never defaulted.
package identity

import (
	"context"
	"net/http"
	"strings"

	"tally/internal/core"
)

// OwnerHeader carries the authenticated owner id, set by the reverse proxy
// that terminates auth in front of this service.
const OwnerHeader = "X-Owner-ID"

type contextKey string

const ownerKey contextKey = "owner_id"

// FromRequest extracts the owner id from the request headers.
func FromRequest(r *http.Request) (string, error) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		return "", core.ErrUnauthenticated
	}
	return owner, nil
}

// WithOwner stamps the owner id onto a context.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey, ownerID)
}

// OwnerFromContext returns the owner id previously stamped by WithOwner.
func OwnerFromContext(ctx context.Context) (string, error) {
	owner, ok := ctx.Value(ownerKey).(string)
	if !ok || owner == "" {
		return "", core.ErrUnauthenticated
	}
	return owner, nil
}

// Middleware resolves the owner once per request and stores it in the
// request context. Requests without an owner are rejected with 401 before
// any handler runs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := FromRequest(r)
		if err != nil {
			http.Error(w, `{"error":"no resolvable owner"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}
