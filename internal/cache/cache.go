package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loanbridge/lendmatch/internal/domain"
)

// Cache keys for the catalog snapshot. One entry per tenant; the catalog
// service invalidates both on policy writes.
const (
	catalogKey      = "catalog"
	serviceAreasKey = "serviceareas"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// serviceAreaDoc is the wire form of a ServiceArea. The in-memory pincode set
// becomes a list for JSON round trips.
type serviceAreaDoc struct {
	ProductID string   `json:"productId"`
	Pincodes  []string `json:"pincodes"`
}

func encodeCatalog(products []*domain.LenderProduct) ([]byte, error) {
	return json.Marshal(products)
}

func decodeCatalog(data []byte) ([]*domain.LenderProduct, error) {
	var products []*domain.LenderProduct
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse cached catalog: %w", err)
	}
	return products, nil
}

func encodeServiceAreas(areas map[string]*domain.ServiceArea) ([]byte, error) {
	docs := make(map[string]serviceAreaDoc, len(areas))
	for id, area := range areas {
		docs[id] = serviceAreaDoc{ProductID: area.ProductID, Pincodes: area.PincodeList()}
	}
	return json.Marshal(docs)
}

func decodeServiceAreas(data []byte) (map[string]*domain.ServiceArea, error) {
	var docs map[string]serviceAreaDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse cached service areas: %w", err)
	}
	areas := make(map[string]*domain.ServiceArea, len(docs))
	for id, doc := range docs {
		areas[id] = domain.NewServiceArea(doc.ProductID, doc.Pincodes)
	}
	return areas, nil
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetCatalog retrieves the cached lender product catalog.
func (c *TwoPhaseCache) GetCatalog(ctx context.Context, tenantID string) ([]*domain.LenderProduct, error) {
	data, err := c.Get(ctx, tenantID, catalogKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeCatalog(data)
}

// SetCatalog caches the lender product catalog in both L1 and L2.
func (c *TwoPhaseCache) SetCatalog(ctx context.Context, tenantID string, products []*domain.LenderProduct, ttl time.Duration) error {
	data, err := encodeCatalog(products)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, catalogKey, data, ttl)
}

// GetServiceAreas retrieves the cached serviceability sets.
func (c *TwoPhaseCache) GetServiceAreas(ctx context.Context, tenantID string) (map[string]*domain.ServiceArea, error) {
	data, err := c.Get(ctx, tenantID, serviceAreasKey)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeServiceAreas(data)
}

// SetServiceAreas caches the serviceability sets in both L1 and L2.
func (c *TwoPhaseCache) SetServiceAreas(ctx context.Context, tenantID string, areas map[string]*domain.ServiceArea, ttl time.Duration) error {
	data, err := encodeServiceAreas(areas)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, serviceAreasKey, data, ttl)
}

// IncrementCounter uses Redis for distributed atomic counters.
// L1 is not used for counters to ensure accuracy across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
