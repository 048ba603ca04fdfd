package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps every key under a common prefix so several devices of
// the same driver can share one Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisStoreFromClient(c, prefix)
}

func NewRedisStoreFromClient(c *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
