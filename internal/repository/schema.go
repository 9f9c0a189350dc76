package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    date TIMESTAMP NOT NULL,
    description TEXT NOT NULL,
    counterparty TEXT,
    category_code TEXT,
    merchant_id TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tenant_id, date);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(tenant_id, category_code, date);
`

const schemaThresholdConfigs = `
CREATE TABLE IF NOT EXISTS threshold_configs (
    tenant_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    category_code TEXT NOT NULL,
    daily_limit BIGINT NOT NULL DEFAULT 0,
    monthly_limit BIGINT NOT NULL DEFAULT 0,
    annual_limit BIGINT NOT NULL DEFAULT 0,
    per_transaction_limit BIGINT NOT NULL DEFAULT 0,
    warning_ratio REAL NOT NULL DEFAULT 0.8,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, jurisdiction, category_code)
);

CREATE INDEX IF NOT EXISTS idx_threshold_configs_tenant ON threshold_configs(tenant_id);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    jurisdiction TEXT,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

const schemaFraudChecks = `
CREATE TABLE IF NOT EXISTS fraud_checks (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    recommended_action TEXT NOT NULL,
    blocked INTEGER NOT NULL DEFAULT 0,
    result TEXT NOT NULL,
    checked_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_checks_tenant ON fraud_checks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_checks_tx ON fraud_checks(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_fraud_checks_checked ON fraud_checks(tenant_id, checked_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    evidence TEXT NOT NULL,
    action TEXT NOT NULL,
    auto_blocked INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    review_note TEXT,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(tenant_id, state);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(tenant_id, severity);
`

// schemaAuditLog is the append-only compliance trail. Rows are written once
// and removed only by the retention purge.
const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT,
    action TEXT NOT NULL,
    payload TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, recorded_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaThresholdConfigs,
		schemaPolicyRules,
		schemaFraudChecks,
		schemaAlerts,
		schemaAuditLog,
	}
}
