package repository

// Schema definitions for the Lendmatch database.
// Compatible with both SQLite and PostgreSQL.

const schemaBorrowers = `
CREATE TABLE IF NOT EXISTS borrowers (
    case_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    profile TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (case_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_borrowers_tenant ON borrowers(tenant_id);
`

const schemaLenderProducts = `
CREATE TABLE IF NOT EXISTS lender_products (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    lender_name TEXT NOT NULL,
    product_name TEXT NOT NULL,
    policy_available INTEGER NOT NULL DEFAULT 1,
    criteria TEXT NOT NULL,
    terms TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_lender_products_tenant ON lender_products(tenant_id);
CREATE INDEX IF NOT EXISTS idx_lender_products_lender ON lender_products(tenant_id, lender_name);
`

// schemaServiceability is the lender-product to pincode relation. Replaced
// wholesale on policy refresh; a product with no rows has no restriction.
const schemaServiceability = `
CREATE TABLE IF NOT EXISTS pincode_serviceability (
    tenant_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    pincode TEXT NOT NULL,
    PRIMARY KEY (tenant_id, product_id, pincode)
);

CREATE INDEX IF NOT EXISTS idx_serviceability_product ON pincode_serviceability(tenant_id, product_id);
`

// schemaRuns holds the append-only run history. The per-case sequence is
// assigned inside the save transaction, so concurrent re-scores of the same
// case never collide.
const schemaRuns = `
CREATE TABLE IF NOT EXISTS eligibility_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    response TEXT NOT NULL,
    UNIQUE (tenant_id, case_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON eligibility_runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_case ON eligibility_runs(tenant_id, case_id);
`

const schemaResults = `
CREATE TABLE IF NOT EXISTS eligibility_results (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    lender_name TEXT NOT NULL,
    product_name TEXT NOT NULL,
    hard_filter_status TEXT NOT NULL,
    score REAL,
    approval_band TEXT,
    rank INTEGER,
    confidence REAL NOT NULL,
    detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run ON eligibility_results(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_results_case ON eligibility_results(tenant_id, case_id);
CREATE INDEX IF NOT EXISTS idx_results_product ON eligibility_results(tenant_id, product_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBorrowers,
		schemaLenderProducts,
		schemaServiceability,
		schemaRuns,
		schemaResults,
	}
}
