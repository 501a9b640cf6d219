package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"partsdesk/internal/domain"
)

const (
	keyPrefix     = "partsdesk:products"
	generationKey = keyPrefix + ":gen"
)

// RedisProductSearchCache namespaces entries under a generation counter.
// Invalidate bumps the counter so stale pages are never read again and
// expire on their own TTL.
type RedisProductSearchCache struct {
	client *redis.Client
}

func NewRedisProductSearchCache(addr string, password string, db int) *RedisProductSearchCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductSearchCache{client: client}
}

func (c *RedisProductSearchCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductSearchCache) Close() error {
	return c.client.Close()
}

func (c *RedisProductSearchCache) Get(ctx context.Context, key string) (*domain.ProductSearchResponse, bool, error) {
	fullKey, err := c.key(ctx, key)
	if err != nil {
		return nil, false, err
	}
	val, err := c.client.Get(ctx, fullKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.ProductSearchResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisProductSearchCache) Set(ctx context.Context, key string, value *domain.ProductSearchResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	fullKey, err := c.key(ctx, key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, fullKey, payload, ttl).Err()
}

func (c *RedisProductSearchCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *RedisProductSearchCache) key(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		gen = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", keyPrefix, gen, key), nil
}
