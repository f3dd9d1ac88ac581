package auth

import (
	"context"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the session payload in context
	SessionContextKey contextKey = "session"
)

// SessionVerifier resolves a bearer token to a session payload, or nil
type SessionVerifier interface {
	Verify(ctx context.Context, token string) *models.SessionPayload
}

// Authenticate verifies the Authorization header and injects the session payload into context
func Authenticate(verifier SessionVerifier, providerPrefix string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			token, ok := ExtractFromHeader(authHeader, providerPrefix)
			if !ok {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			payload := verifier.Verify(r.Context(), token)
			if payload == nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithSession(r.Context(), payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access control; must run after Authenticate
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload := GetSessionFromContext(r)
			if payload == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if !payload.HasRole(roles...) {
				pkghttp.WriteForbidden(w, "forbidden: insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithSession stores a session payload in the context
func WithSession(ctx context.Context, payload *models.SessionPayload) context.Context {
	return context.WithValue(ctx, SessionContextKey, payload)
}

// GetSessionFromContext extracts the session payload from request context
func GetSessionFromContext(r *http.Request) *models.SessionPayload {
	payload, ok := r.Context().Value(SessionContextKey).(*models.SessionPayload)
	if !ok {
		return nil
	}
	return payload
}
