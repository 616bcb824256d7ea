package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.trai.ch/zerr"
)

// RedisStore implements the Store interface using Redis. Keys are namespaced
// by prefix so Clear only touches this store's keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-based store.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, zerr.With(zerr.Wrap(err, "failed to connect to redis"), "addr", addr)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a value from Redis.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, zerr.With(zerr.Wrap(err, "redis get failed"), "key", key)
	}
	return val, nil
}

// Set stores a value in Redis without expiry.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := rs.client.Set(ctx, rs.prefix+key, value, 0).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis set failed"), "key", key)
	}
	return nil
}

// Delete removes a value from Redis.
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.prefix+key).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis delete failed"), "key", key)
	}
	return nil
}

// Clear removes all values under the store's prefix. Without a prefix the
// whole database is flushed.
func (rs *RedisStore) Clear(ctx context.Context) error {
	if rs.prefix == "" {
		if err := rs.client.FlushDB(ctx).Err(); err != nil {
			return zerr.Wrap(err, "redis flush failed")
		}
		return nil
	}

	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis scan failed"), "prefix", rs.prefix)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis delete failed"), "prefix", rs.prefix)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}
