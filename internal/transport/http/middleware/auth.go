package middleware

import (
	"context"
	"net/http"

	jwtinfra "github.com/ecolens-api/internal/infrastructure/jwt"
	"github.com/ecolens-api/internal/transport/http/cookies"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// AccessVerifier validates an access token and returns its claims, or nil.
type AccessVerifier interface {
	VerifyAccess(token string) *jwtinfra.Claims
}

// Auth returns middleware that validates the access-token cookie and injects claims into context.
func Auth(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cookies.AccessToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "not authenticated", "no_access_token")
				return
			}
			claims := verifier.VerifyAccess(token)
			if claims == nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token", "invalid_access_token")
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*jwtinfra.Claims)
	return c, ok
}
