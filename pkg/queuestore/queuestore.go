// Package queuestore wraps the Redis-compatible list store that backs the
// two append-only queues and the distributed lock (spec §4.A). No other
// component is permitted to touch the underlying keys directly.
package queuestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the minimal operation set spec §4.A grants the rest of the
// pipeline: list ops plus the SET/EVAL pair the distributed lock is built
// from. No component outside this package (which also holds Lock) may reach
// for a raw Redis client.
type Store interface {
	Len(ctx context.Context, key string) (int64, error)
	RangeAll(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, key string) (bool, error)
	RPushMany(ctx context.Context, key string, values []string) error
	Ping(ctx context.Context) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	EvalScript(ctx context.Context, src string, keys []string, args ...any) (any, error)

	// DrainAtomic performs a single-round-trip read-all-then-delete of key,
	// the tightened variant of Atomic Drainer step 2-3 (spec §9 Open
	// Question, resolved via a Lua script rather than two round trips).
	DrainAtomic(ctx context.Context, key string) ([]string, error)
}

// RedisStore is the production Store backed by a real (or miniredis-served)
// Redis-protocol endpoint.
type RedisStore struct {
	client *redis.Client
}

// New wraps an existing *redis.Client. Callers own the client's lifecycle.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewFromAddr is a convenience constructor for production wiring and tests
// (including against a miniredis.Addr()).
func NewFromAddr(addr, password string, db int) *RedisStore {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) RangeAll(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("del %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) RPushMany(ctx context.Context, key string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) EvalScript(ctx context.Context, src string, keys []string, args ...any) (any, error) {
	res, err := s.client.Eval(ctx, src, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return res, nil
}

// drainScript reads the full list and deletes the key in one round trip,
// closing the read/delete race spec §4.C and §9 document as merely bounded.
const drainScript = `
local vals = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return vals
`

func (s *RedisStore) DrainAtomic(ctx context.Context, key string) ([]string, error) {
	res, err := s.client.Eval(ctx, drainScript, []string{key}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("drain %s: %w", key, err)
	}
	raw, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("drain %s: unexpected script result type %T", key, res)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("drain %s: unexpected element type %T", key, v)
		}
		out = append(out, s)
	}
	return out, nil
}
