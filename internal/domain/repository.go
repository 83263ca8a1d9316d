// Package domain defines the core types and interfaces for Lendmatch.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Borrower profiles (read-mostly; written by upstream extraction)
	SaveBorrower(ctx context.Context, tenantID string, profile *BorrowerProfile) error
	GetBorrower(ctx context.Context, tenantID string, caseID string) (*BorrowerProfile, error)

	// Lender product catalog
	SaveLenderProduct(ctx context.Context, tenantID string, product *LenderProduct) error
	GetLenderProduct(ctx context.Context, tenantID string, productID string) (*LenderProduct, error)
	ListLenderProducts(ctx context.Context, tenantID string) ([]*LenderProduct, error)

	// Pincode serviceability (lender-product x pincode set relation)
	ReplaceServiceArea(ctx context.Context, tenantID string, productID string, pincodes []string) error
	GetServiceArea(ctx context.Context, tenantID string, productID string) (*ServiceArea, error)
	ListServiceAreas(ctx context.Context, tenantID string) (map[string]*ServiceArea, error)

	// Eligibility runs. SaveRun assigns the per-case sequence number and
	// commits the run header with all result rows atomically.
	SaveRun(ctx context.Context, tenantID string, run *EligibilityRun) error
	GetRun(ctx context.Context, tenantID string, runID string) (*EligibilityRun, error)
	ListRunsByCase(ctx context.Context, tenantID string, caseID string) ([]*EligibilityRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
