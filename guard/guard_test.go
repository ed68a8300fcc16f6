package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireExcludes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "different keys never block each other")
	other()

	release()
	release()

	again, ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
	assert.Equal(t, 0, l.Held())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := NewLocal()
	release, ok, err := l.TryAcquire(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	got()
	assert.Equal(t, 0, l.Held())
}

func TestAcquireTimesOut(t *testing.T) {
	l := NewLocal()
	release, _, err := l.TryAcquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Held())
}

func TestAcquireNeverOverlaps(t *testing.T) {
	l := NewLocal()
	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "job")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Equal(t, 0, l.Held())
}
