package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCostDefinitions = `
CREATE TABLE IF NOT EXISTS cost_definitions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    seq INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL,
    offer_type TEXT NOT NULL DEFAULT '',
    vehicle TEXT NOT NULL DEFAULT '',
    backing_asset TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    provider_id TEXT NOT NULL DEFAULT '',
    provider_name TEXT NOT NULL DEFAULT '',
    pricing_type TEXT NOT NULL,
    periodicity TEXT NOT NULL,
    price DOUBLE PRECISION,
    formula_description TEXT NOT NULL DEFAULT '',
    gross_up DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_cost_definitions_combination
    ON cost_definitions(tenant_id, category, offer_type, vehicle, backing_asset);
`

// Custody brackets carry a NULL max_value for the open-ended last row.
const schemaCustodyBrackets = `
CREATE TABLE IF NOT EXISTS custody_brackets (
    tenant_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    min_value DOUBLE PRECISION NOT NULL,
    max_value DOUBLE PRECISION,
    rate DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (tenant_id, seq)
);
`

const schemaIssuances = `
CREATE TABLE IF NOT EXISTS issuances (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    number TEXT NOT NULL,
    requester TEXT NOT NULL,
    recipient_company TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    offer_type TEXT NOT NULL DEFAULT '',
    vehicle TEXT NOT NULL DEFAULT '',
    backing_asset TEXT NOT NULL DEFAULT '',
    volume DOUBLE PRECISION NOT NULL,
    series TEXT NOT NULL,
    status TEXT NOT NULL,
    observation TEXT NOT NULL DEFAULT '',
    sent_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_issuances_number ON issuances(tenant_id, number);
CREATE INDEX IF NOT EXISTS idx_issuances_status ON issuances(tenant_id, status);

CREATE TABLE IF NOT EXISTS issuance_history (
    tenant_id TEXT NOT NULL,
    issuance_id TEXT NOT NULL,
    status_from TEXT NOT NULL DEFAULT '',
    status_to TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    changed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issuance_history ON issuance_history(tenant_id, issuance_id);
`

const schemaQuotes = `
CREATE TABLE IF NOT EXISTS quotes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    issuance_id TEXT NOT NULL DEFAULT '',
    flagged INTEGER NOT NULL DEFAULT 0,
    total_first_year DOUBLE PRECISION NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_tenant ON quotes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_quotes_issuance ON quotes(tenant_id, issuance_id);
`

const schemaReviewRules = `
CREATE TABLE IF NOT EXISTS review_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_review_rules_tenant ON review_rules(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCostDefinitions,
		schemaCustodyBrackets,
		schemaIssuances,
		schemaQuotes,
		schemaReviewRules,
	}
}
