//go:build integration

package codes_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/codes"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func TestRedisStore_RegisterVerify(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := codes.NewRegistry(codes.NewRedisStore(client), time.Minute, logger,
		codes.WithGenerator(fixedCodes("111111", "482913")))

	_, err := reg.Register(ctx, "a@corp.com", "email")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "a@corp.com", "email")
	require.NoError(t, err)

	assert.False(t, reg.Verify(ctx, "a@corp.com", "111111", "email"))
	assert.True(t, reg.Verify(ctx, "a@corp.com", "482913", "email"))
	assert.False(t, reg.Verify(ctx, "a@corp.com", "482913", "email"))

	exists, err := client.Exists(ctx, "codes:email:a@corp.com").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisStore_KeyExpires(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)

	store := codes.NewRedisStore(client)
	now := time.Now()
	require.NoError(t, store.Put(ctx, codes.Entry{
		Code: "482913", Identifier: "+15550001111", Channel: "sms",
		CreatedAt: now, ExpiresAt: now.Add(time.Second),
	}))

	ttl, err := client.PTTL(ctx, "codes:sms:+15550001111").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)
}
