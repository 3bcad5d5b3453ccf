package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Identity is the authenticated caller: the only two facts the engine ever
// needs from the auth layer.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

type ctxKey struct{}

// TokenValidator verifies a bearer token and returns its subject and role.
type TokenValidator interface {
	ValidateToken(token string) (uuid.UUID, string, error)
}

// RequireAuth rejects requests without a valid Bearer token and stores the
// caller's Identity in the request context.
func RequireAuth(v TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, role, err := v.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromCtx returns the Identity RequireAuth stored, if any.
func IdentityFromCtx(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
