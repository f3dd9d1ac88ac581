package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

func TestAdminService_SetRole(t *testing.T) {
	users := NewMemoryUserRepository()
	id := users.Add(&models.User{Email: "wes@x.com", Role: models.RoleUser, Active: true})
	svc := NewAdminService(users, NewTestLogger(), NewTestAuditLogger())
	ctx := context.Background()

	summary, err := svc.SetRole(ctx, "admin-1", id, "manager")
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, summary.Role)
	assert.Equal(t, models.HistoryRoleChanged, users.Get(id).AccessHistory.Last().Action)

	_, err = svc.SetRole(ctx, "admin-1", id, "overlord")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = svc.SetRole(ctx, "admin-1", "missing", models.RoleUser)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminService_CannotDemoteSelf(t *testing.T) {
	users := NewMemoryUserRepository()
	id := users.Add(&models.User{Email: "root@x.com", Role: models.RoleAdmin, Active: true})
	svc := NewAdminService(users, NewTestLogger(), NewTestAuditLogger())

	_, err := svc.SetRole(context.Background(), id, id, models.RoleUser)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.SetActive(context.Background(), id, id, false)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestAdminService_SetActive(t *testing.T) {
	users := NewMemoryUserRepository()
	id := users.Add(&models.User{Email: "xan@x.com", Role: models.RoleUser, Active: true})
	svc := NewAdminService(users, NewTestLogger(), NewTestAuditLogger())
	ctx := context.Background()

	summary, err := svc.SetActive(ctx, "admin-1", id, false)
	require.NoError(t, err)
	assert.False(t, summary.Active)
	assert.Equal(t, models.HistoryDeactivated, users.Get(id).AccessHistory.Last().Action)

	summary, err = svc.SetActive(ctx, "admin-1", id, true)
	require.NoError(t, err)
	assert.True(t, summary.Active)

	got, err := svc.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "xan@x.com", got.Email)
}
