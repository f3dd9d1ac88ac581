package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// ErrNotApplicable is returned by a TokenVerifier when the token is not of the
// kind it understands. Any other error is a definitive rejection.
var ErrNotApplicable = errors.New("token not applicable to this verifier")

// TokenVerifier is one bearer-token verification strategy
type TokenVerifier interface {
	Name() string
	Verify(ctx context.Context, token string) (*models.SessionPayload, error)
}

// VerifierChain tries strategies in order and stops at the first one that
// either accepts or definitively rejects the token.
type VerifierChain struct {
	verifiers []TokenVerifier
	logger    *slog.Logger
}

// NewVerifierChain creates a chain; order is significant
func NewVerifierChain(logger *slog.Logger, verifiers ...TokenVerifier) *VerifierChain {
	return &VerifierChain{verifiers: verifiers, logger: logger}
}

// Verify returns the session payload for a valid token, or nil. It never panics
// on malformed input.
func (c *VerifierChain) Verify(ctx context.Context, token string) *models.SessionPayload {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	for _, v := range c.verifiers {
		payload, err := v.Verify(ctx, token)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			c.logger.Debug("token rejected",
				slog.String("verifier", v.Name()),
				slog.String("error", err.Error()))
			return nil
		}
		return payload
	}

	return nil
}

// ServiceKeyVerifier accepts "<prefix><key>" tokens used by trusted internal
// services and grants them a fixed role.
type ServiceKeyVerifier struct {
	prefix string
	key    []byte
	role   string
	now    func() time.Time
}

// NewServiceKeyVerifier creates a ServiceKeyVerifier
func NewServiceKeyVerifier(prefix, key, role string) *ServiceKeyVerifier {
	return &ServiceKeyVerifier{prefix: prefix, key: []byte(key), role: role, now: time.Now}
}

func (v *ServiceKeyVerifier) Name() string { return models.TokenSourceServiceKey }

func (v *ServiceKeyVerifier) Verify(_ context.Context, token string) (*models.SessionPayload, error) {
	if v.prefix == "" || !strings.HasPrefix(token, v.prefix) {
		return nil, ErrNotApplicable
	}

	body := strings.TrimPrefix(token, v.prefix)
	if subtle.ConstantTimeCompare([]byte(body), v.key) != 1 {
		return nil, models.ErrUnauthorized
	}

	now := v.now()
	return &models.SessionPayload{
		UserID:     "service",
		Identifier: "service",
		Role:       v.role,
		IssuedAt:   now,
		ExpiresAt:  now,
		Source:     models.TokenSourceServiceKey,
	}, nil
}

// looksLikeJWT reports whether the token has three non-empty dot-separated parts
func looksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// ExtractFromHeader pulls a bearer token out of an Authorization header value.
// It accepts "Bearer <token>", a bare JWT, or a bare token carrying the
// external provider prefix.
func ExtractFromHeader(value, providerPrefix string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	scheme, rest, found := strings.Cut(value, " ")
	if found {
		if !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(rest)
		return token, token != ""
	}

	if looksLikeJWT(value) {
		return value, true
	}
	if providerPrefix != "" && strings.HasPrefix(value, providerPrefix) && len(value) > len(providerPrefix) {
		return value, true
	}

	return "", false
}
