// Package redis provides a guard.Locker shared by several processes through
// Redis, for deployments where more than one server polls the same job table.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sebdeveloper6952/gobuffet/guard"
)

var _ guard.Locker = (*Locker)(nil)

// releaseScript deletes the key only if it still holds our token, so a lease
// that expired and was taken by someone else is never removed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultPrefix  = "gobuffet:lease:"
	minPollBackoff = 25 * time.Millisecond
	maxPollBackoff = 250 * time.Millisecond
)

type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// New returns a Locker whose leases expire after ttl if the holder dies
// without releasing. ttl must outlast the longest service step.
func New(client redis.UniversalClient, ttl time.Duration, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) TryAcquire(ctx context.Context, key string) (guard.Release, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.releaser(key, token), true, nil
}

func (l *Locker) Acquire(ctx context.Context, key string) (guard.Release, error) {
	backoff := minPollBackoff
	for {
		release, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if ok {
			return release, nil
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > maxPollBackoff {
			backoff = maxPollBackoff
		}
	}
}

func (l *Locker) releaser(key, token string) guard.Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be gone when the lease is released
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// on failure the key still expires after ttl
			_ = releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
		})
	}
}
