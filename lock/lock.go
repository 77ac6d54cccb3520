// Package lock provides named mutual exclusion for collection mutations.
//
// Keys are opaque strings, usually "<storage name>/<collection id>". A
// Locker blocks until the key is free or ctx is done, in which case the
// error wraps ErrTimeout and the context error.
//
// Local serializes callers in one process. File extends that to every
// process on the host that shares a directory. DynamoDB coordinates
// processes on different hosts through a lease row.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTimeout is returned when a lock could not be acquired before the
// context expired.
var ErrTimeout = errors.New("lock: timeout")

// Locker acquires exclusive locks by key.
type Locker interface {
	// Lock blocks until key is held. The returned function releases it and
	// must be called exactly once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func timeout(ctx context.Context, key string) error {
	return fmt.Errorf("%w: %q: %w", ErrTimeout, key, context.Cause(ctx))
}

// Compile time check to ensure Local satisfies the Locker interface.
var _ Locker = (*Local)(nil)

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal returns an empty Local.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}

	s.refs++

	return s
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock acquires key.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, timeout(ctx, key)
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

// Held reports how many keys are currently locked or awaited.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.slots)
}
