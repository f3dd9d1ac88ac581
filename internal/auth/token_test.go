package auth

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-characters-long!!"

func testUser() *models.User {
	return &models.User{ID: "user-1", Email: "a@corp.com", Role: models.RoleManager, Active: true}
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", 24*time.Hour)

	token, expiresAt, err := tm.Issue(testUser())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 2*time.Second)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@corp.com", claims.Identifier)
	assert.Equal(t, models.RoleManager, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_UniqueJTI(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Hour)

	first, _, err := tm.Issue(testUser())
	require.NoError(t, err)
	second, _, err := tm.Issue(testUser())
	require.NoError(t, err)

	c1, err := tm.Validate(first)
	require.NoError(t, err)
	c2, err := tm.Validate(second)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestTokenManager_PhoneOnlyIdentifier(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Hour)

	token, _, err := tm.Issue(&models.User{ID: "u2", Phone: "+15550001111", Role: models.RoleUser})
	require.NoError(t, err)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", claims.Identifier)
}

func TestInternalJWTVerifier(t *testing.T) {
	ctx := context.Background()
	tm := NewTokenManager(testSecret, "gatekeeper", time.Hour)
	v := NewInternalJWTVerifier(tm)

	valid, _, err := tm.Issue(testUser())
	require.NoError(t, err)

	expiredTM := NewTokenManager(testSecret, "gatekeeper", time.Hour)
	expiredTM.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredTM.Issue(testUser())
	require.NoError(t, err)

	foreign, _, err := NewTokenManager("some-other-secret-that-is-long-enough", "gatekeeper", time.Hour).Issue(testUser())
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		payload, err := v.Verify(ctx, valid)
		require.NoError(t, err)
		assert.Equal(t, "user-1", payload.UserID)
		assert.Equal(t, models.TokenSourceInternal, payload.Source)
		assert.True(t, payload.ExpiresAt.After(payload.IssuedAt))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		_, err := v.Verify(ctx, expired)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
		assert.NotErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("foreign signature is not applicable", func(t *testing.T) {
		_, err := v.Verify(ctx, foreign)
		assert.ErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("opaque token is not applicable", func(t *testing.T) {
		_, err := v.Verify(ctx, "abcdefghijklmnopqrstuvwxyz0123456789")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("garbage segments are not applicable", func(t *testing.T) {
		_, err := v.Verify(ctx, "not.a.jwt")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})
}
