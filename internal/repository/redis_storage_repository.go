package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "dashboard:storage:"

// RedisStorageRepository keeps the same key/value documents in Redis, for
// deployments where several dashboard instances share tracker state.
type RedisStorageRepository struct {
	rdb *redis.Client
}

// NewRedisStorageRepository connects to addr and verifies the connection
func NewRedisStorageRepository(ctx context.Context, addr string) (*RedisStorageRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStorageRepository{rdb: rdb}, nil
}

// Get returns the stored value and whether the key exists
func (r *RedisStorageRepository) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read redis key %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key without expiry
func (r *RedisStorageRepository) Put(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write redis key %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (r *RedisStorageRepository) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete redis key %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection
func (r *RedisStorageRepository) Close() error {
	return r.rdb.Close()
}
