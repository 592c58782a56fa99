// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis-backed [Store]. It treats Redis as an opaque
// key/value store: Put is a SET, Take is the atomic GETDEL introduced
// in Redis 6.2 (exposed by go-redis as [redis.Client.GetDel]), and
// Peek is a plain GET.
type RedisStore struct {
	rdb    *redis.Client
	keygen keygen
	now    func() time.Time
	ttl    time.Duration
}

// RedisOptions configures a [RedisStore].
type RedisOptions struct {
	Address  string
	Port     int
	Database int

	// TTL bounds how long an un-taken payload lingers in Redis. Zero
	// means no expiration, matching the daemon's own "no durability,
	// no delivery guarantee beyond at-least-once handover" posture.
	TTL time.Duration
}

// NewRedisStore dials Redis lazily: go-redis connects on first command,
// so construction never blocks.
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		DB:   opts.Database,
	})
	return &RedisStore{
		rdb: rdb,
		now: time.Now,
		ttl: opts.TTL,
	}
}

// Put implements [Store].
func (s *RedisStore) Put(ctx context.Context, clientID string, value []byte) (string, error) {
	key := s.keygen.next(clientID, s.now())
	if err := s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store: put failed: %w", err)
	}
	return key, nil
}

// Take implements [Store] using Redis's atomic GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: take failed: %w", err)
	}
	return v, nil
}

// Peek implements [Store].
func (s *RedisStore) Peek(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: peek failed: %w", err)
	}
	return v, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
