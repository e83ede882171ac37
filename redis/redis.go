package redis

import (
	"context"
	"encoding/json"
	defError "errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect returns a client for addr, or nil when redis does not answer.
// Every caller treats a nil client as running without redis.
func Connect(ctx context.Context, addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Println("Redis not available. Running without Redis.")
		_ = client.Close()
		return nil
	}
	log.Println("Redis connected successfully.")
	return client
}

// Cache is a JSON read-through cache with generation counters used to
// invalidate whole key families at once. A nil client turns it into a no-op.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Get decodes the cached value of key into out and reports whether it was found
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if defError.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[CACHE] encode %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Printf("[CACHE] set %s: %v", key, err)
	}
}

// GetVersion returns the generation of a key family, 0 when unset
func (c *Cache) GetVersion(ctx context.Context, versionKey string) int64 {
	if !c.enabled() {
		return 0
	}
	v, err := c.client.Get(ctx, versionKey).Int64()
	if err != nil {
		return 0
	}
	return v
}

// IncrementVersion invalidates every key built from the previous generation
func (c *Cache) IncrementVersion(ctx context.Context, versionKey string) {
	if !c.enabled() {
		return
	}
	if err := c.client.Incr(ctx, versionKey).Err(); err != nil {
		log.Printf("[CACHE] incr %s: %v", versionKey, err)
	}
}
