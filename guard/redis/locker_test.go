package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), mr
}

func TestTryAcquireExcludes(t *testing.T) {
	l, mr := setupLocker(t, time.Minute)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "hash1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(defaultPrefix+"hash1"))

	_, ok, err = l.TryAcquire(ctx, "hash1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists(defaultPrefix+"hash1"))

	_, ok, err = l.TryAcquire(ctx, "hash1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaleReleaseKeepsNewHolder(t *testing.T) {
	l, mr := setupLocker(t, time.Second)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "hash2")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryAcquire(ctx, "hash2")
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists(defaultPrefix+"hash2"), "expired holder must not delete the new lease")
}

func TestAcquireWaitsThenTimesOut(t *testing.T) {
	l, _ := setupLocker(t, time.Minute)
	release, ok, err := l.TryAcquire(context.Background(), "hash3")
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "hash3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got, err := l.Acquire(ctx2, "hash3")
	require.NoError(t, err)
	got()
}

func TestPrefixOption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := New(client, time.Minute, WithPrefix("svc:"))
	release, ok, err := l.TryAcquire(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()
	assert.True(t, mr.Exists("svc:k"))
}
