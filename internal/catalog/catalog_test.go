package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/loanbridge/lendmatch/internal/cache"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "catalog-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func product(id, lender, name string) *domain.LenderProduct {
	return &domain.LenderProduct{
		ID:              id,
		LenderName:      lender,
		ProductName:     name,
		PolicyAvailable: true,
	}
}

func TestCatalogService(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(repo, lru, time.Minute)
	ctx := context.Background()
	tenantID := "tenant-001"

	if err := repo.SaveLenderProduct(ctx, tenantID, product("prod-001", "Axio", "Term Loan")); err != nil {
		t.Fatalf("SaveLenderProduct failed: %v", err)
	}
	if err := repo.ReplaceServiceArea(ctx, tenantID, "prod-001", []string{"400001"}); err != nil {
		t.Fatalf("ReplaceServiceArea failed: %v", err)
	}

	t.Run("LoadsFromStore", func(t *testing.T) {
		products, err := svc.Products(ctx, tenantID)
		if err != nil {
			t.Fatalf("Products failed: %v", err)
		}
		if len(products) != 1 || products[0].ID != "prod-001" {
			t.Fatalf("unexpected catalog: %+v", products)
		}

		areas, err := svc.ServiceAreas(ctx, tenantID)
		if err != nil {
			t.Fatalf("ServiceAreas failed: %v", err)
		}
		if !areas["prod-001"].Serves("400001") {
			t.Error("service area not loaded")
		}
	})

	t.Run("ServesFromCacheUntilReload", func(t *testing.T) {
		// A store write alone is not visible through the cached catalog.
		if err := repo.SaveLenderProduct(ctx, tenantID, product("prod-002", "Bajaj", "Flexi")); err != nil {
			t.Fatalf("SaveLenderProduct failed: %v", err)
		}

		products, err := svc.Products(ctx, tenantID)
		if err != nil {
			t.Fatalf("Products failed: %v", err)
		}
		if len(products) != 1 {
			t.Fatalf("expected cached catalog of 1, got %d", len(products))
		}

		count, err := svc.Reload(ctx, tenantID)
		if err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 products after reload, got %d", count)
		}

		products, err = svc.Products(ctx, tenantID)
		if err != nil {
			t.Fatalf("Products failed: %v", err)
		}
		if len(products) != 2 {
			t.Errorf("expected refreshed catalog of 2, got %d", len(products))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		products, err := svc.Products(ctx, "tenant-002")
		if err != nil {
			t.Fatalf("Products failed: %v", err)
		}
		if len(products) != 0 {
			t.Errorf("expected empty catalog for other tenant, got %d", len(products))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := svc.Products(ctx, ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.ServiceAreas(ctx, ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.Reload(ctx, ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}
