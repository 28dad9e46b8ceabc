package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/vigil/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing session claims in context
	PrincipalContextKey contextKey = "principal"
)

// SessionMiddleware validates bearer session tokens and injects the claims
// into the request context. Continuation and reset tokens are rejected here;
// they are only accepted by their dedicated endpoints.
func SessionMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.Validate(parts[1], TokenTypeSession)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind restricts a route to principals of the given kinds.
func RequireKind(kinds ...models.PrincipalKind) func(next http.Handler) http.Handler {
	allowed := make(map[models.PrincipalKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !allowed[claims.Kind] {
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext extracts the session claims injected by SessionMiddleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(PrincipalContextKey).(*Claims)
	return claims, ok
}
