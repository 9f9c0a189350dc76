package domain

import (
	"context"
	"time"
)

// AuditAction names the auditable operations.
type AuditAction string

const (
	AuditFraudCheck  AuditAction = "fraud_check"
	AuditReviewAlert AuditAction = "review_alert"
)

// AuditRecord is one append-only compliance trail entry. Negative results
// (checks that produced no alerts) are part of the trail too.
type AuditRecord struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenantId"`
	UserID   string      `json:"userId,omitempty"` // empty for system-initiated checks
	Action   AuditAction `json:"action"`

	// Payload is the serialized FraudCheckResult or ReviewDecision.
	Payload []byte `json:"payload"`

	RecordedAt time.Time `json:"recordedAt"`
}

// Recorder persists audit records. Retention and storage mechanics are the
// recorder's responsibility; the engine only guarantees it is called for
// every check when configured to log all checks.
type Recorder interface {
	Record(ctx context.Context, tenantID, userID string, action AuditAction, payload any) error
}
