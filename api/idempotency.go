package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

// RedisDeduper stores seen idempotency keys in Redis so every instance
// rejects a replayed write.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(tenant, key string) string {
	return consts.IdempotencyKeyPrefix + tenant + ":" + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, tenant, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(tenant, key), 1, r.ttl).Result()
}

// Remove deletes a recorded key so a failed write can be retried.
func (r *RedisDeduper) Remove(ctx context.Context, tenant, key string) error {
	return r.client.Del(ctx, r.key(tenant, key)).Err()
}
