package queuestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lock := NewLock(store, "lock:test")

	ok, err := lock.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	other := NewLock(store, "lock:test")
	ok, err = other.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "second acquire should fail while first holds the lock")

	require.NoError(t, lock.Release(ctx))

	ok, err = other.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "lock should be acquirable after release")
}

func TestLockReleaseIgnoresForeignToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := NewLock(store, "lock:test")
	ok, err := a.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	b := NewLock(store, "lock:test")
	require.NoError(t, b.Release(ctx)) // never held; no-op

	ok, err = b.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "a's lock must still be held after b's no-op release")
}

func TestWithLockTimesOutWhenContended(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	holder := NewLock(store, "lock:test")
	ok, err := holder.Acquire(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	contender := NewLock(store, "lock:test")
	err = contender.WithLock(ctx, 5*time.Second, 1100*time.Millisecond, func(ctx context.Context) error {
		t.Fatal("fn must not run while lock is contended")
		return nil
	})
	assert.ErrorIs(t, err, ErrWaitTimedOut)
}

// At-most-one active tick: N concurrent WithLock callers against the
// same key never observe more than one simultaneous execution.
func TestWithLockAtMostOneConcurrentExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var active int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lock := NewLock(store, "lock:shared")
			_ = lock.WithLock(ctx, 2*time.Second, 3*time.Second, func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxObserved), 1)
}
