// Package guard serializes work per key. The lifecycle controller takes a
// lease on a payment hash before running a service step so that overlapping
// polls never run two steps of the same job at once.
package guard

import (
	"context"
	"sync"
)

// Release gives the lease back. Calling it more than once is a no-op.
type Release func()

type Locker interface {
	// TryAcquire takes the lease for key if it is free. ok is false when
	// another holder has it.
	TryAcquire(ctx context.Context, key string) (release Release, ok bool, err error)
	// Acquire blocks until the lease for key is held or ctx is done, in which
	// case ctx.Err() is returned.
	Acquire(ctx context.Context, key string) (Release, error)
}

var _ Locker = (*Local)(nil)

// Local is an in-process Locker. Leases are dropped from memory once no
// holder or waiter references them.
type Local struct {
	mu     sync.Mutex
	leases map[string]*lease
}

type lease struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{
		leases: make(map[string]*lease),
	}
}

func (l *Local) TryAcquire(_ context.Context, key string) (Release, bool, error) {
	le := l.ref(key)
	select {
	case le.sem <- struct{}{}:
		return l.releaser(key, le), true, nil
	default:
		l.unref(key, le)
		return nil, false, nil
	}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	le := l.ref(key)
	select {
	case le.sem <- struct{}{}:
		return l.releaser(key, le), nil
	case <-ctx.Done():
		l.unref(key, le)
		return nil, ctx.Err()
	}
}

// Held reports how many keys currently have a holder or waiter.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

func (l *Local) ref(key string) *lease {
	l.mu.Lock()
	defer l.mu.Unlock()

	le, ok := l.leases[key]
	if !ok {
		le = &lease{sem: make(chan struct{}, 1)}
		l.leases[key] = le
	}
	le.refs++
	return le
}

func (l *Local) unref(key string, le *lease) {
	l.mu.Lock()
	defer l.mu.Unlock()

	le.refs--
	if le.refs == 0 {
		delete(l.leases, key)
	}
}

func (l *Local) releaser(key string, le *lease) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-le.sem
			l.unref(key, le)
		})
	}
}
