// Package worker consumes ingested transactions from the event bus and
// runs them through the scoring pipeline asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// historyWindow matches the API handler's history horizon so sync and
// async checks see the same inputs.
const historyWindow = 366 * 24 * time.Hour

// Worker processes ingested transactions from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingestion topic for every configured tenant.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("worker requires at least one tenant")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// IngestMessage is the payload on the transaction ingested topic.
type IngestMessage struct {
	Transaction  *domain.Transaction `json:"transaction"`
	Jurisdiction string              `json:"jurisdiction,omitempty"`

	// Now pins the evaluation time for replayable processing. Omitted
	// means wall clock at consumption.
	Now *time.Time `json:"now,omitempty"`
}

// processTransaction runs one ingested transaction through the pipeline:
// load history, score, persist, publish.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var ingest IngestMessage
	if err := json.Unmarshal(msg.Payload, &ingest); err != nil {
		slog.Error("failed to parse ingest message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := ingest.Transaction
	if tx == nil {
		slog.Error("ingest message carries no transaction", "message_id", msg.ID)
		return domain.ErrInvalidTransaction
	}
	tx.TenantID = tenantID
	ctx = domain.WithTenant(ctx, tenantID)

	now := time.Now().UTC()
	if ingest.Now != nil {
		now = ingest.Now.UTC()
	}

	var history domain.History
	if w.repo != nil {
		var err error
		history, err = w.repo.ListTransactions(ctx, tenantID, now.Add(-historyWindow))
		if err != nil {
			slog.Error("failed to load history", "tx_id", tx.ID, "error", err)
			return err
		}
		history = history.Exclude(tx.ID)
	}

	result, err := w.engine.Check(ctx, &engine.Input{
		Transaction:  tx,
		History:      history,
		Jurisdiction: ingest.Jurisdiction,
		Now:          now,
	})
	if err != nil && !errors.Is(err, engine.ErrAuditFailed) {
		slog.Error("check failed", "tx_id", tx.ID, "error", err)
		return err
	}
	if errors.Is(err, engine.ErrAuditFailed) {
		slog.Error("audit trail incomplete for check", "check_id", result.ID, "error", err)
	}

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := w.repo.SaveFraudCheck(ctx, tenantID, result); err != nil {
			slog.Error("failed to save check result", "check_id", result.ID, "error", err)
		}
		for i := range result.Alerts {
			if err := w.repo.SaveAlert(ctx, tenantID, &result.Alerts[i]); err != nil {
				slog.Error("failed to save alert", "alert_id", result.Alerts[i].ID, "error", err)
			}
		}
	}

	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicCheckCompleted, resultPayload); err != nil {
		slog.Error("failed to publish check result", "tx_id", tx.ID, "error", err)
	}
	for i := range result.Alerts {
		alertPayload, _ := json.Marshal(&result.Alerts[i])
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlertRaised, alertPayload); err != nil {
			slog.Error("failed to publish alert", "alert_id", result.Alerts[i].ID, "error", err)
		}
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"action", result.RecommendedAction,
		"alerts", len(result.Alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
