package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Redis is a Store backed by a Redis server. Keys are namespaced with KeyPrefix.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a store over a new client
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.KeyPrefix)
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get implements Store
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set implements Store. An OOM reply from a server running with maxmemory is
// reported as ErrQuotaExceeded.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	err := r.client.Set(ctx, r.key(key), value, 0).Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove implements Store
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// EstimateUsedBytes sums the lengths of keys and string values under the prefix
func (r *Redis) EstimateUsedBytes(ctx context.Context) (int64, error) {
	var total int64
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		n, err := r.client.StrLen(ctx, k).Result()
		if err != nil {
			return 0, fmt.Errorf("redis strlen %s: %w", k, err)
		}
		total += int64(len(k)) + n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return total, nil
}

// Close closes the client
func (r *Redis) Close() error {
	return r.client.Close()
}
