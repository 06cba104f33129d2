package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// ContextKeyOwner is the key for storing the owner id in request context.
	ContextKeyOwner contextKey = "owner_id"

	// HeaderUserID carries the authenticated owner, set by the fronting auth proxy.
	HeaderUserID = "X-User-ID"
)

// ErrOwnerMissing is returned when no owner was attached to the request.
var ErrOwnerMissing = errors.New("owner not found in context")

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// OwnerMiddleware resolves the owner of each request from the user id header.
type OwnerMiddleware struct {
	writeError ErrorWriter
}

// NewOwnerMiddleware creates a new OwnerMiddleware.
func NewOwnerMiddleware(writeError ErrorWriter) *OwnerMiddleware {
	return &OwnerMiddleware{writeError: writeError}
}

// Authenticate validates the user id header and adds the owner id to request context.
func (m *OwnerMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		if raw == "" {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+HeaderUserID+" header")
			return
		}

		ownerID, err := uuid.Parse(raw)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", HeaderUserID+" must be a UUID")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyOwner, ownerID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerFromContext retrieves the authenticated owner id from request context.
func OwnerFromContext(ctx context.Context) (string, error) {
	ownerID, ok := ctx.Value(ContextKeyOwner).(string)
	if !ok || ownerID == "" {
		return "", ErrOwnerMissing
	}
	return ownerID, nil
}
