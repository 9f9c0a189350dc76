package audit

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRecorder(t *testing.T) (*Recorder, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-audit-*.db")
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

	return New(repo, 10, nil), repo
}

func TestRecordSerializesPayload(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()

	result := &domain.FraudCheckResult{
		ID:                "check-001",
		TxID:              "tx-001",
		RecommendedAction: domain.ActionAllow,
	}

	if err := recorder.Record(ctx, "tenant-1", "", domain.AuditFraudCheck, result); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	records, err := repo.ListAudit(ctx, "tenant-1", time.Time{})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Action != domain.AuditFraudCheck {
		t.Errorf("action = %s, want fraud_check", rec.Action)
	}
	if rec.UserID != "" {
		t.Errorf("system-initiated check should have empty userID, got %q", rec.UserID)
	}

	var decoded domain.FraudCheckResult
	if err := json.Unmarshal(rec.Payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.ID != "check-001" || decoded.RecommendedAction != domain.ActionAllow {
		t.Errorf("payload round trip lost data: %+v", decoded)
	}
}

func TestRecordUnserializablePayload(t *testing.T) {
	recorder, _ := newTestRecorder(t)

	err := recorder.Record(context.Background(), "tenant-1", "", domain.AuditFraudCheck, make(chan int))
	if err == nil {
		t.Fatal("expected serialization error")
	}
}

func TestSweepHonorsRetention(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []*domain.AuditRecord{
		{ID: "old", TenantID: "tenant-1", Action: domain.AuditFraudCheck, Payload: []byte("{}"), RecordedAt: now.AddDate(-11, 0, 0)},
		{ID: "edge", TenantID: "tenant-1", Action: domain.AuditFraudCheck, Payload: []byte("{}"), RecordedAt: now.AddDate(-9, 0, 0)},
		{ID: "new", TenantID: "tenant-1", Action: domain.AuditReviewAlert, Payload: []byte("{}"), RecordedAt: now},
	}
	for _, rec := range records {
		if err := repo.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	purged, err := recorder.Sweep(ctx, "tenant-1", now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	remaining, err := repo.ListAudit(ctx, "tenant-1", time.Time{})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 remaining records, got %d", len(remaining))
	}
}
