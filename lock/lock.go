// Package lock serializes writers that share a key, either inside one
// process or across processes through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended. The root bursar package re-exports it as ErrLockTimeout.
var ErrNotAcquired = errors.New("bursar: lock not acquired")

// Locker hands out exclusive locks by key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process keyed mutex. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	locks map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates a Local locker.
func NewLocal() *Local { return &Local{} }

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*slot)
	}
	s, ok := l.locks[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.locks[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.locks, key)
	}
}

// Held returns the number of keys with a holder or a waiter.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
