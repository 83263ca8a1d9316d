// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loanbridge/lendmatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBorrower upserts a borrower profile with tenant isolation.
func (r *SQLRepository) SaveBorrower(ctx context.Context, tenantID string, profile *domain.BorrowerProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if profile.CaseID == "" {
		return fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	profile.TenantID = tenantID

	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode borrower profile: %w", err)
	}

	query := `
		INSERT INTO borrowers (case_id, tenant_id, profile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(case_id, tenant_id) DO UPDATE SET
			profile = excluded.profile,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		profile.CaseID, tenantID, string(body), profile.CreatedAt, profile.UpdatedAt,
	)
	return err
}

// GetBorrower retrieves a borrower profile by case ID with tenant isolation.
func (r *SQLRepository) GetBorrower(ctx context.Context, tenantID string, caseID string) (*domain.BorrowerProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT profile FROM borrowers
		WHERE tenant_id = ? AND case_id = ?
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var profile domain.BorrowerProfile
	if err := json.Unmarshal([]byte(body), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse borrower profile %s: %w", caseID, err)
	}
	return &profile, nil
}

// SaveLenderProduct upserts a lender product policy with tenant isolation.
func (r *SQLRepository) SaveLenderProduct(ctx context.Context, tenantID string, product *domain.LenderProduct) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if product.ID == "" {
		return fmt.Errorf("%w: product ID is required", ErrInvalidInput)
	}

	criteria, err := json.Marshal(product.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}
	terms, err := json.Marshal(product.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode terms: %w", err)
	}

	available := 0
	if product.PolicyAvailable {
		available = 1
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	query := `
		INSERT INTO lender_products (
			id, tenant_id, lender_name, product_name, policy_available,
			criteria, terms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			lender_name = excluded.lender_name,
			product_name = excluded.product_name,
			policy_available = excluded.policy_available,
			criteria = excluded.criteria,
			terms = excluded.terms,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		product.ID, tenantID, product.LenderName, product.ProductName, available,
		string(criteria), string(terms), product.CreatedAt, product.UpdatedAt,
	)
	return err
}

// GetLenderProduct retrieves one lender product with tenant isolation.
func (r *SQLRepository) GetLenderProduct(ctx context.Context, tenantID string, productID string) (*domain.LenderProduct, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, lender_name, product_name, policy_available,
		       criteria, terms, created_at, updated_at
		FROM lender_products
		WHERE tenant_id = ? AND id = ?
	`

	p, err := scanProduct(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListLenderProducts retrieves every lender product for a tenant.
func (r *SQLRepository) ListLenderProducts(ctx context.Context, tenantID string) ([]*domain.LenderProduct, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, lender_name, product_name, policy_available,
		       criteria, terms, created_at, updated_at
		FROM lender_products
		WHERE tenant_id = ?
		ORDER BY lender_name, product_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*domain.LenderProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.LenderProduct, error) {
	var p domain.LenderProduct
	var criteria, terms string
	var available int

	if err := row.Scan(
		&p.ID, &p.TenantID, &p.LenderName, &p.ProductName, &available,
		&criteria, &terms, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.PolicyAvailable = available == 1
	if err := json.Unmarshal([]byte(criteria), &p.Criteria); err != nil {
		return nil, fmt.Errorf("failed to parse criteria for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(terms), &p.Terms); err != nil {
		return nil, fmt.Errorf("failed to parse terms for %s: %w", p.ID, err)
	}
	return &p, nil
}

// ReplaceServiceArea swaps the full pincode set for a product atomically.
// An empty list removes the restriction.
func (r *SQLRepository) ReplaceServiceArea(ctx context.Context, tenantID string, productID string, pincodes []string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if productID == "" {
		return fmt.Errorf("%w: productID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := `DELETE FROM pincode_serviceability WHERE tenant_id = ? AND product_id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(del), tenantID, productID); err != nil {
		return err
	}

	ins := `INSERT INTO pincode_serviceability (tenant_id, product_id, pincode) VALUES (?, ?, ?)`
	for _, pin := range pincodes {
		if _, err := tx.ExecContext(ctx, r.rebind(ins), tenantID, productID, pin); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetServiceArea retrieves the pincode set for one product. Returns nil with
// no error when the product has no restriction.
func (r *SQLRepository) GetServiceArea(ctx context.Context, tenantID string, productID string) (*domain.ServiceArea, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT pincode FROM pincode_serviceability
		WHERE tenant_id = ? AND product_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pincodes []string
	for rows.Next() {
		var pin string
		if err := rows.Scan(&pin); err != nil {
			return nil, err
		}
		pincodes = append(pincodes, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pincodes) == 0 {
		return nil, nil
	}
	return domain.NewServiceArea(productID, pincodes), nil
}

// ListServiceAreas retrieves every restricted product's pincode set for a
// tenant, keyed by product ID.
func (r *SQLRepository) ListServiceAreas(ctx context.Context, tenantID string) (map[string]*domain.ServiceArea, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT product_id, pincode FROM pincode_serviceability
		WHERE tenant_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byProduct := make(map[string][]string)
	for rows.Next() {
		var productID, pin string
		if err := rows.Scan(&productID, &pin); err != nil {
			return nil, err
		}
		byProduct[productID] = append(byProduct[productID], pin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	areas := make(map[string]*domain.ServiceArea, len(byProduct))
	for productID, pins := range byProduct {
		areas[productID] = domain.NewServiceArea(productID, pins)
	}
	return areas, nil
}

// SaveRun persists a scoring run and its result rows in one transaction.
// The per-case sequence number is assigned here, under the same transaction,
// so history stays gapless even with concurrent re-scores.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.EligibilityRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run.ID == "" || run.CaseID == "" {
		return fmt.Errorf("%w: run ID and caseID are required", ErrInvalidInput)
	}
	if run.Response == nil {
		return fmt.Errorf("%w: run response is required", ErrInvalidInput)
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.TenantID = tenantID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seqQuery := `
		SELECT COALESCE(MAX(sequence), 0) + 1
		FROM eligibility_runs
		WHERE tenant_id = ? AND case_id = ?
	`
	if err := tx.QueryRowContext(ctx, r.rebind(seqQuery), tenantID, run.CaseID).Scan(&run.Sequence); err != nil {
		return err
	}

	body, err := json.Marshal(run.Response)
	if err != nil {
		return fmt.Errorf("failed to encode run response: %w", err)
	}

	insRun := `
		INSERT INTO eligibility_runs (id, tenant_id, case_id, sequence, created_at, response)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insRun),
		run.ID, tenantID, run.CaseID, run.Sequence, run.CreatedAt, string(body),
	); err != nil {
		return err
	}

	insResult := `
		INSERT INTO eligibility_results (
			id, run_id, tenant_id, case_id, product_id, lender_name, product_name,
			hard_filter_status, score, approval_band, rank, confidence, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, res := range run.Response.Results {
		detail, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to encode result %s: %w", res.ID, err)
		}

		var band *string
		if res.ApprovalBand != nil {
			s := string(*res.ApprovalBand)
			band = &s
		}

		if _, err := tx.ExecContext(ctx, r.rebind(insResult),
			res.ID, run.ID, tenantID, run.CaseID, res.ProductID,
			res.LenderName, res.ProductName, res.HardFilterStatus,
			res.Score, band, res.Rank, res.Confidence, string(detail),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun retrieves a scoring run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.EligibilityRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, case_id, sequence, created_at, response
		FROM eligibility_runs
		WHERE tenant_id = ? AND id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRunsByCase retrieves the run history for a case, newest first.
func (r *SQLRepository) ListRunsByCase(ctx context.Context, tenantID string, caseID string) ([]*domain.EligibilityRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, case_id, sequence, created_at, response
		FROM eligibility_runs
		WHERE tenant_id = ? AND case_id = ?
		ORDER BY sequence DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.EligibilityRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.EligibilityRun, error) {
	var run domain.EligibilityRun
	var body string

	if err := row.Scan(
		&run.ID, &run.TenantID, &run.CaseID, &run.Sequence, &run.CreatedAt, &body,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(body), &run.Response); err != nil {
		return nil, fmt.Errorf("failed to parse run response %s: %w", run.ID, err)
	}
	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
