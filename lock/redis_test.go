package lock

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisLock(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a redis container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisWithClient(client, "test:run-lock", time.Minute)
	b := NewRedisWithClient(client, "test:run-lock", time.Minute)

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	token, err := client.Get(ctx, "test:run-lock").Result()
	require.NoError(t, err)
	_, err = uuid.Parse(token)
	require.NoError(t, err, "lock value is a uuid token")

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second holder must be refused")

	// A stale release from someone who no longer holds the token is a no-op.
	require.NoError(t, client.Set(ctx, "test:run-lock", "someone-else", time.Minute).Err())
	release()
	val, err := client.Get(ctx, "test:run-lock").Result()
	require.NoError(t, err)
	require.Equal(t, "someone-else", val)

	require.NoError(t, client.Del(ctx, "test:run-lock").Err())
	releaseB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	releaseB()

	exists, err := client.Exists(ctx, "test:run-lock").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}
