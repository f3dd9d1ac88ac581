package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification strategies that can accept a bearer token
const (
	TokenSourceInternal      = "internal"
	TokenSourceServiceKey    = "service_key"
	TokenSourceGoogle        = "google"
	TokenSourceIntrospection = "introspection"
)

// TokenClaims is the JWT body of a session token issued by this service.
type TokenClaims struct {
	UserID     string `json:"user_id"`
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// SessionPayload is what a verified bearer token resolves to, whatever its origin.
type SessionPayload struct {
	UserID     string    `json:"user_id"`
	Identifier string    `json:"identifier"`
	Role       string    `json:"role"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TokenID    string    `json:"token_id,omitempty"`
	Source     string    `json:"source"`
}

// HasRole reports whether the payload carries one of the given roles
func (p *SessionPayload) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
