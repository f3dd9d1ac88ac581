package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager issues and validates session tokens signed with the service secret
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue creates a signed session token for the user with a unique JTI
func (tm *TokenManager) Issue(user *models.User) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.expiry)

	claims := &models.TokenClaims{
		UserID:     user.ID,
		Identifier: user.Identifier(),
		Role:       user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, expiresAt, nil
}

// errForeignSignature marks a well-formed JWT that was not signed by us
var errForeignSignature = errors.New("token not signed by this service")

// Validate verifies signature and expiry and returns the claims
func (tm *TokenManager) Validate(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errForeignSignature
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.UserID == "" || claims.Role == "" {
		return nil, fmt.Errorf("invalid token: missing claims")
	}

	return claims, nil
}

// InternalJWTVerifier accepts tokens issued by TokenManager
type InternalJWTVerifier struct {
	tm *TokenManager
}

// NewInternalJWTVerifier creates a verifier over the given TokenManager
func NewInternalJWTVerifier(tm *TokenManager) *InternalJWTVerifier {
	return &InternalJWTVerifier{tm: tm}
}

func (v *InternalJWTVerifier) Name() string { return models.TokenSourceInternal }

// Verify returns ErrNotApplicable for tokens that are not JWTs or are signed by
// someone else, so later strategies can try them. A JWT we signed that fails
// any other check (expired, wrong issuer) is rejected outright.
func (v *InternalJWTVerifier) Verify(_ context.Context, token string) (*models.SessionPayload, error) {
	if !looksLikeJWT(token) {
		return nil, ErrNotApplicable
	}

	claims, err := v.tm.Validate(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) ||
			errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
			errors.Is(err, jwt.ErrTokenUnverifiable) ||
			errors.Is(err, errForeignSignature) {
			return nil, ErrNotApplicable
		}
		return nil, err
	}

	payload := &models.SessionPayload{
		UserID:     claims.UserID,
		Identifier: claims.Identifier,
		Role:       claims.Role,
		TokenID:    claims.ID,
		Source:     models.TokenSourceInternal,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}
