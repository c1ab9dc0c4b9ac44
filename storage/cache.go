package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

// Cache wraps a Provider with Redis-backed caching of FetchMany results.
// Every write through the cache bumps a per-table generation so all cached
// filters of that table are invalidated at once.
type Cache struct {
	base  Provider
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Provider, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base provider is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// ForTenant returns the cached backend for one tenant.
func (c *Cache) ForTenant(tenant string) Backend {
	return &cachedBackend{cache: c, base: c.base.ForTenant(tenant), tenant: tenant}
}

type cachedBackend struct {
	cache  *Cache
	base   Backend
	tenant string
}

func (b *cachedBackend) FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error) {
	key, ok := b.cache.recordsKey(ctx, b.tenant, table, filter)
	if ok {
		if tasks, hit := b.cache.load(ctx, key); hit {
			return tasks, nil
		}
	}

	tasks, err := b.base.FetchMany(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if ok {
		b.cache.store(ctx, key, tasks)
	}
	return tasks, nil
}

func (b *cachedBackend) GetOne(ctx context.Context, table, id string) (domain.Task, error) {
	return b.base.GetOne(ctx, table, id)
}

func (b *cachedBackend) InsertOne(ctx context.Context, table string, rec domain.Task) (domain.Task, error) {
	out, err := b.base.InsertOne(ctx, table, rec)
	if err != nil {
		return domain.Task{}, err
	}
	b.cache.evict(ctx, b.tenant, table)
	return out, nil
}

func (b *cachedBackend) UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error) {
	out, err := b.base.UpdateOne(ctx, table, id, fields)
	// a failed write may still have landed
	b.cache.evict(ctx, b.tenant, table)
	if err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

func (b *cachedBackend) DeleteOne(ctx context.Context, table, id string) error {
	err := b.base.DeleteOne(ctx, table, id)
	b.cache.evict(ctx, b.tenant, table)
	return err
}

func (c *Cache) recordsKey(ctx context.Context, tenant, table string, filter domain.Filter) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(tenant, table)).Result()
	if err == redis.Nil {
		gen = "0"
	} else if err != nil {
		return "", false
	}
	return consts.RecordsKeyPrefix + tenant + ":" + table + ":" + gen + ":" + filter.Key(), true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, tenant, table string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, generationKey(tenant, table)).Err()
}

func generationKey(tenant, table string) string {
	return consts.RecordsGenerationKeyPrefix + tenant + ":" + table
}
