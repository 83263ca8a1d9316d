package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCatalog retrieves the cached lender product catalog.
	GetCatalog(ctx context.Context, tenantID string) ([]*LenderProduct, error)

	// SetCatalog caches the lender product catalog.
	SetCatalog(ctx context.Context, tenantID string, products []*LenderProduct, ttl time.Duration) error

	// GetServiceAreas retrieves the cached serviceability sets.
	GetServiceAreas(ctx context.Context, tenantID string) (map[string]*ServiceArea, error)

	// SetServiceAreas caches the serviceability sets.
	SetServiceAreas(ctx context.Context, tenantID string, areas map[string]*ServiceArea, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-tenant request rate limiting on the scoring endpoint.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
