//go:build integration

package repositories_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
)

func TestAuthorizationRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewAuthorizationRepository(db)
	ctx := context.Background()

	t.Run("single discriminant", func(t *testing.T) {
		_, err := repo.Create(ctx, &models.AuthorizationEntry{Email: "a@acme.com", Domain: "acme.com", Status: models.AuthorizationActive})
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})

	t.Run("domain lookup is active only", func(t *testing.T) {
		truncate(t, db)
		entry, err := repo.Create(ctx, &models.AuthorizationEntry{Domain: "acme.com", Status: models.AuthorizationActive, Notes: []string{"seed"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"seed"}, entry.Notes)

		found, err := repo.FindActiveDomain(ctx, "acme.com")
		require.NoError(t, err)
		assert.Equal(t, entry.ID, found.ID)

		require.NoError(t, repo.MarkExpired(ctx, entry.ID))
		_, err = repo.FindActiveDomain(ctx, "acme.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("status transitions", func(t *testing.T) {
		truncate(t, db)
		pending, err := repo.Create(ctx, &models.AuthorizationEntry{Email: "req@acme.com", Status: models.AuthorizationPending})
		require.NoError(t, err)

		approved, err := repo.UpdateStatus(ctx, pending.ID, models.AuthorizationActive,
			[]string{models.AuthorizationPending}, []string{"approved by admin"})
		require.NoError(t, err)
		assert.Equal(t, models.AuthorizationActive, approved.Status)
		assert.Contains(t, approved.Notes, "approved by admin")

		_, err = repo.UpdateStatus(ctx, pending.ID, models.AuthorizationRejected, []string{models.AuthorizationPending}, nil)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		_, err = repo.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", models.AuthorizationRejected, []string{models.AuthorizationPending}, nil)
		assert.ErrorIs(t, err, models.ErrNotFound)

		list, err := repo.ListByStatus(ctx, models.AuthorizationActive, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("duplicate email entry conflicts", func(t *testing.T) {
		truncate(t, db)
		_, err := repo.Create(ctx, &models.AuthorizationEntry{Email: "dup@acme.com", Status: models.AuthorizationPending})
		require.NoError(t, err)
		_, err = repo.Create(ctx, &models.AuthorizationEntry{Email: "dup@acme.com", Status: models.AuthorizationActive})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("invite consumption is exactly-once", func(t *testing.T) {
		truncate(t, db)
		maxUses := 1
		_, err := repo.Create(ctx, &models.AuthorizationEntry{InviteCode: "ONCE0001", Status: models.AuthorizationActive, MaxUses: &maxUses})
		require.NoError(t, err)

		exists, err := repo.InviteCodeExists(ctx, "ONCE0001")
		require.NoError(t, err)
		assert.True(t, exists)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ConsumeInvite(ctx, "ONCE0001", time.Now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		invite, err := repo.FindByInviteCode(ctx, "ONCE0001")
		require.NoError(t, err)
		assert.Equal(t, models.AuthorizationExpired, invite.Status)
		assert.Equal(t, 1, invite.UsedCount)
	})

	t.Run("expired invite cannot be consumed", func(t *testing.T) {
		truncate(t, db)
		past := time.Now().Add(-time.Hour)
		_, err := repo.Create(ctx, &models.AuthorizationEntry{InviteCode: "LATE0001", Status: models.AuthorizationActive, ExpiresAt: &past})
		require.NoError(t, err)

		_, err = repo.ConsumeInvite(ctx, "LATE0001", time.Now())
		assert.ErrorIs(t, err, models.ErrNotFound)

		n, err := repo.ExpireStaleInvites(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
