package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

var testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T) (*Worker, domain.EventBus, domain.Repository) {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-worker-test.db"),
	})
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eng := engine.New(domain.DefaultScreeningConfig(), catalog.NewSeeded(), nil, nil, nil)
	return NewWorker(eventBus, repo, eng), eventBus, repo
}

func ingestPayload(t *testing.T, id string, amount int64, description string) []byte {
	t.Helper()
	now := testNow
	raw, err := json.Marshal(IngestMessage{
		Transaction: &domain.Transaction{
			ID:           id,
			Amount:       amount,
			Date:         testNow,
			Description:  description,
			CategoryCode: "travel",
		},
		Jurisdiction: "US",
		Now:          &now,
	})
	if err != nil {
		t.Fatalf("marshal ingest message: %v", err)
	}
	return raw
}

func TestStartAndStop(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	if err := worker.Start(Config{}); err == nil {
		t.Error("Start with no tenants did not fail")
	}

	if err := worker.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stats := worker.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscriptions = %d, want 1", stats.SubscriptionCount)
	}
	if stats.Topics[0] != domain.TopicTransactionIngested {
		t.Errorf("topic = %s, want %s", stats.Topics[0], domain.TopicTransactionIngested)
	}

	if err := worker.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if worker.GetStats().SubscriptionCount != 0 {
		t.Error("subscriptions remain after Stop")
	}
}

func TestProcessIngestedTransaction(t *testing.T) {
	worker, eventBus, repo := newTestWorker(t)
	const tenant = "tenant-001"

	completed := make(chan *domain.FraudCheckResult, 4)
	_, err := eventBus.Subscribe(context.Background(), tenant, domain.TopicCheckCompleted, func(_ context.Context, msg *domain.Message) error {
		var result domain.FraudCheckResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			return err
		}
		completed <- &result
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := worker.Start(Config{TenantIDs: []string{tenant}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer worker.Stop()

	publish := func(payload []byte) *domain.FraudCheckResult {
		t.Helper()
		if err := eventBus.Publish(context.Background(), tenant, domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case result := <-completed:
			return result
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for check completion")
			return nil
		}
	}

	first := publish(ingestPayload(t, "async-1", 15_750, "quarterly sales trip"))
	if first.TxID != "async-1" {
		t.Fatalf("txId = %s, want async-1", first.TxID)
	}
	if first.RecommendedAction != domain.ActionAllow {
		t.Errorf("action = %s, want allow for a first transaction", first.RecommendedAction)
	}

	// Identical resubmission, published only after the first completed so
	// the stored history includes it.
	second := publish(ingestPayload(t, "async-2", 15_750, "quarterly sales trip"))
	if second.RecommendedAction != domain.ActionBlock {
		t.Errorf("action = %s, want block for a resubmission", second.RecommendedAction)
	}

	// The pipeline persisted the transaction, the check and its alerts.
	ctx := domain.WithTenant(context.Background(), tenant)
	if _, err := repo.GetTransaction(ctx, tenant, "async-2"); err != nil {
		t.Errorf("GetTransaction: %v", err)
	}
	if _, err := repo.GetFraudCheck(ctx, tenant, second.ID); err != nil {
		t.Errorf("GetFraudCheck: %v", err)
	}
	alerts, err := repo.ListAlerts(ctx, tenant, domain.ReviewPending)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) == 0 {
		t.Error("no pending alerts persisted for a blocked check")
	}
}

func TestMalformedMessageRejected(t *testing.T) {
	worker, eventBus, _ := newTestWorker(t)
	const tenant = "tenant-002"

	if err := worker.Start(Config{TenantIDs: []string{tenant}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer worker.Stop()

	// Neither publish may wedge the worker: the valid message after the
	// malformed one still completes.
	completed := make(chan struct{}, 1)
	_, err := eventBus.Subscribe(context.Background(), tenant, domain.TopicCheckCompleted, func(context.Context, *domain.Message) error {
		completed <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := eventBus.Publish(context.Background(), tenant, domain.TopicTransactionIngested, []byte("not json")); err != nil {
		t.Fatalf("Publish malformed: %v", err)
	}
	if err := eventBus.Publish(context.Background(), tenant, domain.TopicTransactionIngested, ingestPayload(t, "ok-1", 9_000, "team lunch receipt")); err != nil {
		t.Fatalf("Publish valid: %v", err)
	}

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("worker stopped processing after a malformed message")
	}
}
