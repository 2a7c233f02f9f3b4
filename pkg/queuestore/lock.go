package queuestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/idutil"
)

// ErrWaitTimedOut is returned by Lock.WithLock when maxWait elapses without
// acquiring the lock.
var ErrWaitTimedOut = errors.New("distributed lock: wait timed out")

// releaseScript performs a compare-and-delete: it only releases the lock if
// the value still matches the token this Lock instance wrote, preventing a
// process from releasing a lock it no longer owns because its TTL already
// expired and another instance acquired it (spec §4.B).
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`

// Lock is a TTL-bounded mutual-exclusion claim stored in the queue store
// (spec §4.B), preventing overlapping ticks across process instances.
type Lock struct {
	store Store
	key   string
	token string
}

// NewLock returns a Lock bound to a specific key. The same Lock value must
// be used to acquire and later release a given claim, since release
// verifies token ownership.
func NewLock(store Store, key string) *Lock {
	return &Lock{store: store, key: key}
}

// Acquire attempts to win the lock with a SET-NX-PX write of a unique
// token. It returns whether this call won.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	token := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), idutil.RandSuffix(8))
	ok, err := l.store.SetNX(ctx, l.key, token, ttl)
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release runs the atomic check-and-delete script, releasing the lock only
// if it still holds this instance's token.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	_, err := l.store.EvalScript(ctx, releaseScript, []string{l.key}, l.token)
	l.token = ""
	return err
}

// WithLock polls Acquire every second until it succeeds or maxWait elapses,
// runs fn while holding the lock, and always releases it afterward.
func (l *Lock) WithLock(ctx context.Context, ttl, maxWait time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		ok, err := l.Acquire(ctx, ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", l.key, err)
		}
		if ok {
			defer func() { _ = l.Release(ctx) }()
			return fn(ctx)
		}
		if time.Now().After(deadline) {
			return ErrWaitTimedOut
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
