// Package catalog provides cached access to the lender product catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loanbridge/lendmatch/internal/domain"
)

// ErrStoreUnavailable wraps lender store failures. Callers treat it as
// retryable: the API layer maps it to 503 rather than 500.
var ErrStoreUnavailable = errors.New("lender store unavailable")

const defaultTTL = 5 * time.Minute

// Service is a cache-aside loader for the lender catalog and serviceability
// sets. Policy data changes on ingestion cadence, not per request, so a short
// TTL keeps the scoring path off the database.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a catalog service.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{repo: repo, cache: cache, ttl: ttl}
}

// Products returns the tenant's lender products, from cache when fresh.
func (s *Service) Products(ctx context.Context, tenantID string) ([]*domain.LenderProduct, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	if cached, err := s.cache.GetCatalog(ctx, tenantID); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		slog.Warn("catalog cache read failed, falling back to store",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	products, err := s.repo.ListLenderProducts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.cache.SetCatalog(ctx, tenantID, products, s.ttl); err != nil {
		slog.Warn("catalog cache write failed",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	return products, nil
}

// ServiceAreas returns the tenant's pincode serviceability sets keyed by
// product ID, from cache when fresh. Products absent from the map have no
// pincode restriction.
func (s *Service) ServiceAreas(ctx context.Context, tenantID string) (map[string]*domain.ServiceArea, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	if cached, err := s.cache.GetServiceAreas(ctx, tenantID); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		slog.Warn("service-area cache read failed, falling back to store",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	areas, err := s.repo.ListServiceAreas(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if areas == nil {
		areas = make(map[string]*domain.ServiceArea)
	}

	if err := s.cache.SetServiceAreas(ctx, tenantID, areas, s.ttl); err != nil {
		slog.Warn("service-area cache write failed",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	return areas, nil
}

// Reload repopulates the cache from the store, discarding whatever was
// cached. Called after policy ingestion writes. Returns the product count.
func (s *Service) Reload(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	products, err := s.repo.ListLenderProducts(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	areas, err := s.repo.ListServiceAreas(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if areas == nil {
		areas = make(map[string]*domain.ServiceArea)
	}

	if err := s.cache.SetCatalog(ctx, tenantID, products, s.ttl); err != nil {
		return 0, fmt.Errorf("failed to refresh catalog cache: %w", err)
	}
	if err := s.cache.SetServiceAreas(ctx, tenantID, areas, s.ttl); err != nil {
		return 0, fmt.Errorf("failed to refresh service-area cache: %w", err)
	}

	slog.Info("lender catalog reloaded",
		"tenant_id", tenantID,
		"products", len(products),
		"restricted_products", len(areas),
	)

	return len(products), nil
}
