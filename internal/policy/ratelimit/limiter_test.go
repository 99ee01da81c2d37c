package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://ilmanifesto.it/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "first wait should be immediate")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://ilmanifesto.it/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterZeroIntervalNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/"))
}
