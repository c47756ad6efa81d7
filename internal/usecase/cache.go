package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// verdictTTL bounds how long a verdict for a given image hash is reusable.
const verdictTTL = 10 * time.Minute

// Cache abstracts the Redis operations used by the use case to make testing
// easier. Values are pre-serialized strings; no personal data is ever cached.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// cachedVerdict is the serialized cache entry for one image hash. It mirrors
// the outward response shape: booleans and a message only.
type cachedVerdict struct {
	Success   bool   `json:"success"`
	IsUnder18 bool   `json:"is_under_18"`
	QRFound   bool   `json:"qr_found"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message,omitempty"`
}
