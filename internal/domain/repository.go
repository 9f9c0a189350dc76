package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, since time.Time) (History, error)
	ListTransactionsByCategory(ctx context.Context, tenantID, categoryCode string, since time.Time) (History, error)

	// Threshold catalog entries
	SaveThresholdConfig(ctx context.Context, tenantID string, cfg *ThresholdConfig) error
	GetThresholdConfig(ctx context.Context, tenantID, jurisdiction, categoryCode string) (*ThresholdConfig, error)
	ListThresholdConfigs(ctx context.Context, tenantID string) ([]*ThresholdConfig, error)

	// Policy rules
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)

	// Check results and alerts
	SaveFraudCheck(ctx context.Context, tenantID string, result *FraudCheckResult) error
	GetFraudCheck(ctx context.Context, tenantID string, checkID string) (*FraudCheckResult, error)
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, tenantID string, state ReviewState) ([]*Alert, error)
	UpdateAlertReview(ctx context.Context, tenantID string, alert *Alert) error

	// Audit trail (append-only)
	AppendAudit(ctx context.Context, record *AuditRecord) error
	ListAudit(ctx context.Context, tenantID string, since time.Time) ([]*AuditRecord, error)
	PurgeAuditBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

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
