// Package audit persists the append-only compliance trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder writes audit records through the repository. Every fraud check
// and every review decision lands here, including checks that raised no
// alerts.
type Recorder struct {
	repo   domain.Repository
	logger *slog.Logger

	// retention is how long records are kept before the sweep removes
	// them. Tax-compliance default is 10 years.
	retention time.Duration
}

// New creates a recorder with the given retention in years.
func New(repo domain.Repository, retainYears int, logger *slog.Logger) *Recorder {
	if retainYears <= 0 {
		retainYears = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:      repo,
		retention: time.Duration(retainYears) * 365 * 24 * time.Hour,
		logger:    logger.With("component", "audit"),
	}
}

// Record serializes the payload and appends one trail entry.
func (r *Recorder) Record(ctx context.Context, tenantID, userID string, action domain.AuditAction, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize audit payload: %w", err)
	}

	record := &domain.AuditRecord{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		Action:     action,
		Payload:    body,
		RecordedAt: time.Now().UTC(),
	}

	if err := r.repo.AppendAudit(ctx, record); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Sweep purges records past retention for one tenant and returns the
// number removed.
func (r *Recorder) Sweep(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	cutoff := now.Add(-r.retention)
	purged, err := r.repo.PurgeAuditBefore(ctx, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	if purged > 0 {
		r.logger.Info("purged expired audit records",
			"tenant_id", tenantID,
			"purged", purged,
			"cutoff", cutoff)
	}
	return purged, nil
}

// RunSweeper purges on the given interval until the context is cancelled.
func (r *Recorder) RunSweeper(ctx context.Context, tenantID string, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := r.Sweep(ctx, tenantID, now); err != nil {
				r.logger.Error("audit sweep failed", "tenant_id", tenantID, "error", err)
			}
		}
	}
}
