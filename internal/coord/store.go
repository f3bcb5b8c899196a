// Package coord is the client for the shared coordination store.  It
// exposes the three atomic primitives the distributed mutex relies on;
// any backend offering them is substitutable.
package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the coordination protocol: set-if-absent with TTL,
// compare-then-delete and compare-then-extend.  Every method is a single
// round trip so a crash can never leave a key orphaned past its TTL.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	CompareAndExtend(ctx context.Context, key, value string, extra time.Duration) (bool, error)
}

var (
	compareAndDelete = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)

	// The new expiry is the remaining TTL plus the extension, so an
	// extension never shortens a lock.
	compareAndExtend = redis.NewScript(`
		if redis.call('GET', KEYS[1]) ~= ARGV[1] then
			return 0
		end
		local ttl = tonumber(redis.call('PTTL', KEYS[1]))
		if ttl == nil or ttl < 0 then
			ttl = 0
		end
		return redis.call('PEXPIRE', KEYS[1], ttl + tonumber(ARGV[2]))
	`)
)

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an already connected client.  The client is a
// process-wide resource owned by main.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// SetIfAbsent writes value under key only when the key does not exist.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("coord: set %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only while it still holds value.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("coord: compare-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndExtend adds extra to the expiry of key while it still holds value.
func (s *RedisStore) CompareAndExtend(ctx context.Context, key, value string, extra time.Duration) (bool, error) {
	n, err := compareAndExtend.Run(ctx, s.rdb, []string{key}, value, extra.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("coord: compare-extend %s: %w", key, err)
	}
	return n == 1, nil
}
