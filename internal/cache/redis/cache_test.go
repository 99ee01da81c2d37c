package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewWithClient(client, 0)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "copertine:api:editions/14-01-2024", Key("editions/14-01-2024"))
}

func TestDefaultTTL(t *testing.T) {
	t.Parallel()

	c := unreachable(t)
	assert.Equal(t, time.Minute, c.ttl)
}

func TestUnreachableServerSurfacesErrors(t *testing.T) {
	t.Parallel()

	c := unreachable(t)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, hit)
	require.Error(t, c.Set(ctx, "k", []byte("v")))
	require.Error(t, c.Ping(ctx))
}
