package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "medsync:idempotency:"

var clearIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache shares issued requestIds between the API and worker processes.
// Expiry is delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a RedisCache. A non-positive ttl falls back to DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Reuse implements Cache.
func (c *RedisCache) Reuse(ctx context.Context, signature string) (string, bool, error) {
	id, err := c.client.Get(ctx, redisKey(signature)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Store implements Cache.
func (c *RedisCache) Store(ctx context.Context, signature, requestID string) error {
	if signature == "" {
		return ErrSignatureRequired
	}
	return c.client.Set(ctx, redisKey(signature), requestID, c.ttl).Err()
}

// ClearIf implements Cache.
func (c *RedisCache) ClearIf(ctx context.Context, signature, requestID string) error {
	return clearIfScript.Run(ctx, c.client, []string{redisKey(signature)}, requestID).Err()
}

func redisKey(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}
