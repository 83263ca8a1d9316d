package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetCatalog retrieves the cached lender product catalog.
func (c *RedisCache) GetCatalog(ctx context.Context, tenantID string) ([]*domain.LenderProduct, error) {
	data, err := c.Get(ctx, tenantID, catalogKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeCatalog(data)
}

// SetCatalog caches the lender product catalog.
func (c *RedisCache) SetCatalog(ctx context.Context, tenantID string, products []*domain.LenderProduct, ttl time.Duration) error {
	data, err := encodeCatalog(products)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, catalogKey, data, ttl)
}

// GetServiceAreas retrieves the cached serviceability sets.
func (c *RedisCache) GetServiceAreas(ctx context.Context, tenantID string) (map[string]*domain.ServiceArea, error) {
	data, err := c.Get(ctx, tenantID, serviceAreasKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeServiceAreas(data)
}

// SetServiceAreas caches the serviceability sets.
func (c *RedisCache) SetServiceAreas(ctx context.Context, tenantID string, areas map[string]*domain.ServiceArea, ttl time.Duration) error {
	data, err := encodeServiceAreas(areas)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, serviceAreasKey, data, ttl)
}

// IncrementCounter atomically increments a counter using Redis INCR with EXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, "counter:"+key)

	// Use Lua script for atomic increment with TTL
	script := redis.NewScript(`
		local current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return current
	`)

	result, err := script.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(tenantID, key string) string {
	return "lendmatch:" + tenantID + ":" + key
}
