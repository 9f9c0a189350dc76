// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
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

// SaveTransaction stores a transaction with tenant isolation. Replays of
// the same transaction ID update in place so ingestion stays idempotent.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, amount, date, description,
			counterparty, category_code, merchant_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			amount = excluded.amount,
			date = excluded.date,
			description = excluded.description,
			counterparty = excluded.counterparty,
			category_code = excluded.category_code,
			merchant_id = excluded.merchant_id
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Amount, tx.Date, tx.Description,
		tx.Counterparty, tx.CategoryCode, tx.MerchantID, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, date, description,
			   counterparty, category_code, merchant_id, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.Amount, &tx.Date, &tx.Description,
		&tx.Counterparty, &tx.CategoryCode, &tx.MerchantID, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// ListTransactions retrieves all transactions since the given time.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, since time.Time) (domain.History, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, date, description,
			   counterparty, category_code, merchant_id, created_at
		FROM transactions
		WHERE tenant_id = ? AND date >= ?
		ORDER BY date DESC
	`

	return r.queryHistory(ctx, r.rebind(query), tenantID, since)
}

// ListTransactionsByCategory retrieves transactions in one category since
// the given time.
func (r *SQLRepository) ListTransactionsByCategory(ctx context.Context, tenantID, categoryCode string, since time.Time) (domain.History, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, date, description,
			   counterparty, category_code, merchant_id, created_at
		FROM transactions
		WHERE tenant_id = ? AND category_code = ? AND date >= ?
		ORDER BY date DESC
	`

	return r.queryHistory(ctx, r.rebind(query), tenantID, categoryCode, since)
}

func (r *SQLRepository) queryHistory(ctx context.Context, query string, args ...any) (domain.History, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history domain.History
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.Amount, &tx.Date, &tx.Description,
			&tx.Counterparty, &tx.CategoryCode, &tx.MerchantID, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, &tx)
	}

	return history, rows.Err()
}

// SaveThresholdConfig upserts a catalog entry with tenant isolation.
func (r *SQLRepository) SaveThresholdConfig(ctx context.Context, tenantID string, cfg *domain.ThresholdConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if cfg.Jurisdiction == "" || cfg.CategoryCode == "" {
		return fmt.Errorf("%w: jurisdiction and categoryCode are required", ErrInvalidInput)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO threshold_configs (
			tenant_id, jurisdiction, category_code,
			daily_limit, monthly_limit, annual_limit, per_transaction_limit,
			warning_ratio, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, jurisdiction, category_code) DO UPDATE SET
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			annual_limit = excluded.annual_limit,
			per_transaction_limit = excluded.per_transaction_limit,
			warning_ratio = excluded.warning_ratio,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, cfg.Jurisdiction, cfg.CategoryCode,
		cfg.DailyLimit, cfg.MonthlyLimit, cfg.AnnualLimit, cfg.PerTransactionLimit,
		cfg.WarningRatio, enabled, now, now,
	)
	return err
}

// GetThresholdConfig retrieves one catalog entry with tenant isolation.
func (r *SQLRepository) GetThresholdConfig(ctx context.Context, tenantID, jurisdiction, categoryCode string) (*domain.ThresholdConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT jurisdiction, category_code,
			   daily_limit, monthly_limit, annual_limit, per_transaction_limit,
			   warning_ratio, enabled, created_at, updated_at
		FROM threshold_configs
		WHERE tenant_id = ? AND jurisdiction = ? AND category_code = ?
	`

	var cfg domain.ThresholdConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, jurisdiction, categoryCode).Scan(
		&cfg.Jurisdiction, &cfg.CategoryCode,
		&cfg.DailyLimit, &cfg.MonthlyLimit, &cfg.AnnualLimit, &cfg.PerTransactionLimit,
		&cfg.WarningRatio, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListThresholdConfigs retrieves all catalog entries for a tenant.
func (r *SQLRepository) ListThresholdConfigs(ctx context.Context, tenantID string) ([]*domain.ThresholdConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT jurisdiction, category_code,
			   daily_limit, monthly_limit, annual_limit, per_transaction_limit,
			   warning_ratio, enabled, created_at, updated_at
		FROM threshold_configs
		WHERE tenant_id = ?
		ORDER BY jurisdiction, category_code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ThresholdConfig
	for rows.Next() {
		var cfg domain.ThresholdConfig
		var enabled int

		if err := rows.Scan(
			&cfg.Jurisdiction, &cfg.CategoryCode,
			&cfg.DailyLimit, &cfg.MonthlyLimit, &cfg.AnnualLimit, &cfg.PerTransactionLimit,
			&cfg.WarningRatio, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SavePolicyRule upserts a policy rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, jurisdiction, name, description, version,
			expression, action, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			jurisdiction = excluded.jurisdiction,
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Jurisdiction, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(rule.Action), rule.Reason, enabled,
		now, now,
	)
	return err
}

// ListPolicyRules retrieves all enabled policy rules for a tenant.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, jurisdiction, name, description, version,
			   expression, action, reason, enabled, created_at, updated_at
		FROM policy_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var action string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Jurisdiction, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &action, &rule.Reason, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Action = domain.Action(action)
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveFraudCheck stores a check result. The full result is stored as JSON;
// the indexed columns exist for querying and retention sweeps.
func (r *SQLRepository) SaveFraudCheck(ctx context.Context, tenantID string, result *domain.FraudCheckResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize check result: %w", err)
	}

	blocked := 0
	if result.BlockedBySystem {
		blocked = 1
	}

	query := `
		INSERT INTO fraud_checks (
			id, tenant_id, tx_id, jurisdiction, recommended_action, blocked, result, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.TxID, result.Jurisdiction,
		string(result.RecommendedAction), blocked, string(payload), result.CheckedAt,
	)
	return err
}

// GetFraudCheck retrieves a check result by ID with tenant isolation.
func (r *SQLRepository) GetFraudCheck(ctx context.Context, tenantID string, checkID string) (*domain.FraudCheckResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT result FROM fraud_checks
		WHERE tenant_id = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, checkID).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.FraudCheckResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to parse check result %s: %w", checkID, err)
	}
	return &result, nil
}

// SaveAlert stores an alert with tenant isolation.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	evidence, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("failed to serialize evidence: %w", err)
	}

	autoBlocked := 0
	if alert.AutoBlocked {
		autoBlocked = 1
	}

	query := `
		INSERT INTO alerts (
			id, tenant_id, tx_id, type, severity, title, description,
			evidence, action, auto_blocked, state, review_note, reviewed_by,
			reviewed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TxID, string(alert.Type), string(alert.Severity),
		alert.Title, alert.Description, string(evidence), string(alert.Action),
		autoBlocked, string(alert.State), alert.ReviewNote, alert.ReviewedBy,
		alert.ReviewedAt, alert.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, type, severity, title, description,
			   evidence, action, auto_blocked, state, review_note, reviewed_by,
			   reviewed_at, created_at
		FROM alerts
		WHERE tenant_id = ? AND id = ?
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts retrieves alerts for a tenant, optionally filtered by review
// state. An empty state returns all alerts.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, state domain.ReviewState) ([]*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, type, severity, title, description,
			   evidence, action, auto_blocked, state, review_note, reviewed_by,
			   reviewed_at, created_at
		FROM alerts
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if state != "" {
		query += " AND state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlertReview persists the review fields of an alert.
func (r *SQLRepository) UpdateAlertReview(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE alerts
		SET state = ?, review_note = ?, reviewed_by = ?, reviewed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(alert.State), alert.ReviewNote, alert.ReviewedBy, alert.ReviewedAt,
		tenantID, alert.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AppendAudit writes one audit record. The trail is append-only; there is
// no update or single-row delete.
func (r *SQLRepository) AppendAudit(ctx context.Context, record *domain.AuditRecord) error {
	if record.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO audit_log (id, tenant_id, user_id, action, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		record.ID, record.TenantID, record.UserID,
		string(record.Action), string(record.Payload), record.RecordedAt,
	)
	return err
}

// ListAudit retrieves audit records since the given time.
func (r *SQLRepository) ListAudit(ctx context.Context, tenantID string, since time.Time) ([]*domain.AuditRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, action, payload, recorded_at
		FROM audit_log
		WHERE tenant_id = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var action, payload string

		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.UserID, &action, &payload, &rec.RecordedAt); err != nil {
			return nil, err
		}

		rec.Action = domain.AuditAction(action)
		rec.Payload = []byte(payload)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// PurgeAuditBefore deletes audit records older than the cutoff and returns
// the number removed. Used by the retention sweep.
func (r *SQLRepository) PurgeAuditBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM audit_log WHERE tenant_id = ? AND recorded_at < ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var alertType, severity, action, state, evidence string
	var autoBlocked int
	var reviewedAt sql.NullTime

	if err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.TxID, &alertType, &severity,
		&alert.Title, &alert.Description, &evidence, &action,
		&autoBlocked, &state, &alert.ReviewNote, &alert.ReviewedBy,
		&reviewedAt, &alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	alert.Type = domain.AlertType(alertType)
	alert.Severity = domain.Severity(severity)
	alert.Action = domain.Action(action)
	alert.State = domain.ReviewState(state)
	alert.AutoBlocked = autoBlocked == 1
	if reviewedAt.Valid {
		t := reviewedAt.Time
		alert.ReviewedAt = &t
	}
	if err := json.Unmarshal([]byte(evidence), &alert.Evidence); err != nil {
		return nil, fmt.Errorf("failed to parse evidence for alert %s: %w", alert.ID, err)
	}

	return &alert, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

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
