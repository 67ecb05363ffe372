package middleware

import (
	"net/http"
	"strings"

	id "grove/pkg/domain"
	"grove/pkg/requestcontext"
)

// TokenValidator checks an access token's signature and expiry. Stateless;
// runs on every authenticated request.
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims is the subset of access-token claims handlers need.
type TokenClaims struct {
	UserID    id.UserID
	SessionID id.SessionID
	ClientID  string
}

// RequireAuth rejects requests without a valid bearer token and injects the
// token's subject and session into the request context. The 401 body is the
// same for a missing, malformed, expired, or forged token.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := requestcontext.WithUserID(r.Context(), claims.UserID)
			ctx = requestcontext.WithSessionID(ctx, claims.SessionID)
			ctx = requestcontext.WithClientID(ctx, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="grove"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
}
