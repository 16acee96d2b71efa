package devotp

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "devotp:"

// RedisStore is a Store backed by Redis, so codes survive restarts and are shared between
// replicas in a dev environment. Keys expire with the code.
type RedisStore struct {
	client *redis.Client
	nowF   func() time.Time
}

// NewRedisStore returns a Store using a client for addr and logical database db.
func NewRedisStore(addr string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return NewRedisStoreWithClient(client)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, nowF: time.Now}
}

// Put stores otp under devotp:<phone> with a TTL ending at expiresAt. An already expired
// code is not stored.
func (s *RedisStore) Put(ctx context.Context, phone, otp string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.nowF())
	if ttl <= 0 {
		return s.client.Del(ctx, redisKeyPrefix+phone).Err()
	}
	return s.client.Set(ctx, redisKeyPrefix+phone, otp, ttl).Err()
}

// Get returns the otp for phone; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, phone string) (string, bool, error) {
	otp, err := s.client.Get(ctx, redisKeyPrefix+phone).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return otp, true, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
