package mutex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForWaiters(t *testing.T, m *Mutex, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Waiting() == n }, time.Second, time.Millisecond)
}

func TestAcquire_UncontendedReturnsImmediately(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background()))
	assert.True(t, m.Held())
	require.NoError(t, m.Release())
	assert.False(t, m.Held())
}

func TestRelease_WithoutHolder(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.Release(), ErrNotHeld)
}

func TestRelease_Twice(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background()))
	require.NoError(t, m.Release())
	assert.ErrorIs(t, m.Release(), ErrNotHeld)
}

func TestAcquire_FIFOOrder(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()
			require.NoError(t, m.Acquire(ctx))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			require.NoError(t, m.Release())
		}(i)

		waitForWaiters(t, m, i+1)
	}

	require.NoError(t, m.Release())
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, m.Held())
}

func TestAcquire_CancelledWaiterLeavesQueue(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- m.Acquire(ctx) }()

	waitForWaiters(t, m, 1)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, m.Waiting())

	require.NoError(t, m.Release())
	assert.False(t, m.Held())
}

func TestAbandon_AfterHandOffPassesLockOn(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background()))

	ready := make(chan struct{})
	m.waiters = append(m.waiters, ready)

	// Hand the lock to the waiter, then have it give up as if its context
	// fired at the same moment.
	require.NoError(t, m.Release())
	m.abandon(ready)

	assert.False(t, m.Held())
}

func TestDo_ReleasesAfterSuccess(t *testing.T) {
	m := New()
	called := false

	err := m.Do(context.Background(), func(ctx context.Context) error {
		called = true
		assert.True(t, m.Held())
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, m.Held())
}

func TestDo_ReleasesAndReturnsErrorByDefault(t *testing.T) {
	m := New()
	boom := errors.New("boom")

	err := m.Do(context.Background(), func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, m.Held())
}

func TestDo_KeepLockedOnError(t *testing.T) {
	m := New()
	boom := errors.New("boom")

	err := m.Do(context.Background(), func(ctx context.Context) error { return boom }, KeepLockedOnError())

	assert.ErrorIs(t, err, boom)
	assert.True(t, m.Held())
	require.NoError(t, m.Release())
}

func TestDo_SuppressError(t *testing.T) {
	m := New()

	err := m.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("ignored")
	}, SuppressError())

	assert.NoError(t, err)
	assert.False(t, m.Held())
}

func TestDo_ReleasesOnPanic(t *testing.T) {
	m := New()

	assert.Panics(t, func() {
		_ = m.Do(context.Background(), func(ctx context.Context) error { panic("kaboom") })
	})
	assert.False(t, m.Held())
}

func TestDo_AcquireCancelled(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Do(ctx, func(ctx context.Context) error {
		t.Fatal("op must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, m.Release())
}
