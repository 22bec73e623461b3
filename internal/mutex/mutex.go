// Package mutex provides a FIFO mutual-exclusion lock for coordinating
// long-running operations such as sync cycles and local edits.
//
// Unlike sync.Mutex, waiters are served strictly in arrival order, an
// Acquire can be abandoned through its context, and releasing a lock that
// nobody holds is reported as an error instead of panicking.
package mutex

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned by Release when the lock has no holder.
var ErrNotHeld = errors.New("mutex released before it was acquired")

// Mutex is a FIFO lock. The zero value is ready to use.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{}
}

// Acquire blocks until the caller owns the lock or ctx is done. Callers
// are granted the lock in the order their Acquire calls arrived.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})
	m.waiters = append(m.waiters, ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		m.abandon(ready)
		return ctx.Err()
	}
}

// abandon removes a cancelled waiter. If the lock was handed to it in the
// meantime, ownership moves on to the next waiter.
func (m *Mutex) abandon(ready chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.waiters {
		if w == ready {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}

	m.handOff()
}

// Release passes the lock to the oldest waiter, or unlocks it when
// nobody is waiting.
func (m *Mutex) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		return ErrNotHeld
	}

	m.handOff()

	return nil
}

// handOff must be called with m.mu held and the lock owned.
func (m *Mutex) handOff() {
	if len(m.waiters) == 0 {
		m.held = false
		return
	}

	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}

// Held reports whether some caller currently owns the lock.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.held
}

// Waiting returns the number of queued Acquire calls.
func (m *Mutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.waiters)
}

type doOptions struct {
	keepOnError bool
	suppress    bool
}

// DoOption configures Do.
type DoOption func(*doOptions)

// KeepLockedOnError leaves the lock held when op fails. The caller is
// then responsible for calling Release.
func KeepLockedOnError() DoOption {
	return func(o *doOptions) { o.keepOnError = true }
}

// SuppressError makes Do return nil when op fails. Acquire errors are
// still returned.
func SuppressError() DoOption {
	return func(o *doOptions) { o.suppress = true }
}

// Do acquires the lock, runs op and releases the lock, including when op
// returns an error or panics.
func (m *Mutex) Do(ctx context.Context, op func(ctx context.Context) error, opts ...DoOption) (err error) {
	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := m.Acquire(ctx); err != nil {
		return err
	}

	release := true

	defer func() {
		if release {
			if rerr := m.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
	}()

	err = op(ctx)
	if err == nil {
		return nil
	}

	if o.keepOnError {
		release = false
	}

	if o.suppress {
		return nil
	}

	return err
}
