package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewGuard(client)
	ctx := context.Background()

	delivered, err := g.AlreadyDelivered(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, delivered)

	require.NoError(t, g.MarkDelivered(ctx, "r1", 7*24*time.Hour))

	delivered, err = g.AlreadyDelivered(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, 7*24*time.Hour, mr.TTL(processedKey("r1")))

	other, err := g.AlreadyDelivered(ctx, "r2")
	require.NoError(t, err)
	assert.False(t, other, "markers are per request id")
}

func TestGuardMarkerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewGuard(client)
	ctx := context.Background()
	require.NoError(t, g.MarkDelivered(ctx, "r1", time.Minute))

	mr.FastForward(2 * time.Minute)

	delivered, err := g.AlreadyDelivered(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestGuardRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	g := NewGuard(client)
	_, err := g.AlreadyDelivered(context.Background(), "r1")
	assert.Error(t, err)
	assert.Error(t, g.MarkDelivered(context.Background(), "r1", time.Minute))
}
