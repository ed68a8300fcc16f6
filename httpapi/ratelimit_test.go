package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSeparatesClasses(t *testing.T) {
	rl := NewRateLimiter(map[RouteClass]Limit{
		ClassInvoice: {RPS: 0.001, Burst: 1},
		ClassPoll:    {RPS: 0.001, Burst: 3},
	})
	defer rl.Stop()

	assert.True(t, rl.Allow(ClassInvoice, "10.0.0.1"))
	assert.False(t, rl.Allow(ClassInvoice, "10.0.0.1"))
	assert.True(t, rl.Allow(ClassInvoice, "10.0.0.2"))

	// an exhausted invoice budget leaves polling alone
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ClassPoll, "10.0.0.1"))
	}
	assert.False(t, rl.Allow(ClassPoll, "10.0.0.1"))
	assert.Equal(t, 3, rl.Clients())
}

func TestRateLimiterUnlimitedClass(t *testing.T) {
	rl := NewRateLimiter(map[RouteClass]Limit{ClassInvoice: {RPS: 0.001, Burst: 1}})
	defer rl.Stop()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(ClassPoll, "10.0.0.1"))
	}
	assert.Equal(t, 0, rl.Clients())
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(map[RouteClass]Limit{ClassPoll: {RPS: 1, Burst: 1}})
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow(ClassPoll, "10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.Allow(ClassPoll, "10.0.0.2")

	now = now.Add(6 * time.Minute)
	rl.sweep()
	assert.Equal(t, 1, rl.Clients())
}

func TestLimitRetryAfter(t *testing.T) {
	assert.Equal(t, "1", Limit{RPS: 5}.retryAfter())
	assert.Equal(t, "4", Limit{RPS: 0.25}.retryAfter())
}
