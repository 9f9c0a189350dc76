// Package engine runs the five detectors against a transaction and folds
// their outputs into a single reviewable decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicate"
	"github.com/opensource-finance/kestrel/internal/pattern"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/threshold"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// ErrAuditFailed marks a completed check whose audit record could not be
// persisted. The result travels alongside the error so callers can still
// act on the decision while surfacing the compliance gap.
var ErrAuditFailed = errors.New("audit record failed")

// Input is everything a single check needs. The engine never reaches into
// storage itself; the caller supplies history and the evaluation time so a
// check can be replayed bit-for-bit.
type Input struct {
	Transaction  *domain.Transaction
	History      domain.History
	Jurisdiction string

	// Now anchors all window calculations. Zero means wall clock.
	Now time.Time
}

// Engine orchestrates the detectors, the threshold catalog and the policy
// rules into one decision per transaction.
type Engine struct {
	cfg      domain.ScreeningConfig
	catalog  domain.Catalog
	policies *policy.Engine
	recorder domain.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	duplicates *duplicate.Detector
	thresholds *threshold.Monitor
	patterns   *pattern.Analyzer
	anomalies  *anomaly.Detector
	velocities *velocity.Checker
}

// New creates an engine. The catalog is required; policies and recorder may
// be nil, which disables operator escalation rules and audit recording.
func New(cfg domain.ScreeningConfig, catalog domain.Catalog, policies *policy.Engine, recorder domain.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		catalog:    catalog,
		policies:   policies,
		recorder:   recorder,
		logger:     logger,
		tracer:     otel.Tracer("kestrel/engine"),
		duplicates: duplicate.NewDetector(cfg.DuplicateScoreThreshold),
		thresholds: threshold.NewMonitor(),
		patterns:   pattern.NewAnalyzer(cfg.Pattern),
		anomalies:  anomaly.NewDetector(cfg.AnomalyStdDeviationThreshold),
		velocities: velocity.NewChecker(cfg.VelocityIncreaseThreshold),
	}
}

// checkOrder is the canonical ChecksPerformed ordering.
var checkOrder = []string{
	domain.CheckDuplicate,
	domain.CheckThreshold,
	domain.CheckPattern,
	domain.CheckAnomaly,
	domain.CheckVelocity,
}

// Check scores one transaction against its history. Detectors run
// concurrently; a detector panic is isolated into a skipped check rather
// than failing the whole call. The only fatal input error is a transaction
// that cannot be scored at all.
func (e *Engine) Check(ctx context.Context, input *Input) (*domain.FraudCheckResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.check")
	defer span.End()

	tx := input.Transaction
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := &domain.FraudCheckResult{
		ID:           checkID(tx, now),
		TenantID:     tx.TenantID,
		TxID:         tx.ID,
		Jurisdiction: input.Jurisdiction,
		CheckedAt:    now,
	}

	history := input.History
	// The candidate joins the window for the detectors that reason about
	// aggregate behavior.
	window := make(domain.History, 0, len(history)+1)
	window = append(window, history...)
	window = append(window, tx)

	var (
		mu      sync.Mutex
		skipped []domain.SkippedCheck
		wg      sync.WaitGroup
	)

	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("detector panic", "check", name, "tx_id", tx.ID, "panic", p)
					mu.Lock()
					skipped = append(skipped, domain.SkippedCheck{Name: name, Reason: fmt.Sprintf("detector failure: %v", p)})
					mu.Unlock()
				}
			}()
			fn()
		}()
	}

	run(domain.CheckDuplicate, func() {
		result.Duplicate = e.duplicates.Check(tx, history.Exclude(tx.ID))
	})
	run(domain.CheckThreshold, func() {
		result.Threshold = e.thresholds.Evaluate(tx, e.lookupThreshold(ctx, input.Jurisdiction, tx.CategoryCode), history)
	})
	run(domain.CheckPattern, func() {
		result.Pattern = e.patterns.Analyze(window)
	})
	run(domain.CheckAnomaly, func() {
		result.Amount = e.anomalies.CheckAmount(tx, history.FilterCategory(tx.CategoryCode))
		result.Frequency = e.anomalies.CheckFrequency(window, now)
		result.Category = e.anomalies.CheckCategory(tx, history)
	})
	run(domain.CheckVelocity, func() {
		result.Velocity = e.velocities.Check(now, window)
	})
	wg.Wait()

	result.ChecksSkipped = skipped
	for _, name := range checkOrder {
		if !wasSkipped(skipped, name) {
			result.ChecksPerformed = append(result.ChecksPerformed, name)
		}
	}

	// A panicked detector may have left a partial result behind.
	for _, s := range skipped {
		clearResult(result, s.Name)
	}

	e.decide(tx, input.Jurisdiction, now, result)

	e.logger.Info("fraud check completed",
		"tenant_id", tx.TenantID,
		"tx_id", tx.ID,
		"check_id", result.ID,
		"action", result.RecommendedAction,
		"alerts", len(result.Alerts))

	if err := e.audit(ctx, tx, result); err != nil {
		return result, err
	}
	return result, nil
}

// BatchItem pairs one batch input's result with its error, preserving the
// input's position.
type BatchItem struct {
	Index  int                      `json:"index"`
	Result *domain.FraudCheckResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
}

// CheckBatch scores each input independently and in order. One item's
// failure never aborts the rest.
func (e *Engine) CheckBatch(ctx context.Context, inputs []*Input) []BatchItem {
	items := make([]BatchItem, len(inputs))
	for i, input := range inputs {
		result, err := e.Check(ctx, input)
		items[i] = BatchItem{Index: i, Result: result, Err: err}
	}
	return items
}

// lookupThreshold resolves the applicable config, falling back to the
// conservative defaults on any catalog failure. An unreachable catalog must
// not fail open.
func (e *Engine) lookupThreshold(ctx context.Context, jurisdiction, category string) *domain.ThresholdConfig {
	cfg, found, err := e.catalog.Lookup(ctx, jurisdiction, category)
	if err != nil {
		e.logger.Warn("catalog lookup failed, using conservative defaults",
			"jurisdiction", jurisdiction, "category", category, "error", err)
		return domain.ConservativeDefaults(jurisdiction, category)
	}
	if !found {
		e.logger.Debug("no threshold config for pair, using conservative defaults",
			"jurisdiction", jurisdiction, "category", category)
	}
	return cfg
}

// decide synthesizes alerts, applies operator policy and forced-review
// configuration, and derives the final action.
func (e *Engine) decide(tx *domain.Transaction, jurisdiction string, now time.Time, result *domain.FraudCheckResult) {
	alerts := synthesize(&e.cfg, result)

	// Expose the synthesized alerts before policy evaluation so rules
	// keyed on alert_count see the detector outcome.
	result.Alerts = alerts

	action := domain.ActionAllow
	for _, a := range alerts {
		if a.Action.MoreSevere(action) {
			action = a.Action
		}
	}

	if e.policies != nil {
		for _, esc := range e.policies.Evaluate(tx, jurisdiction, result) {
			if esc.Action.MoreSevere(action) {
				action = esc.Action
			}
			alerts = append(alerts, policyAlert(esc))
		}
	}

	if forced, reason := e.forcedReview(tx); forced && domain.ActionReview.MoreSevere(action) {
		action = domain.ActionReview
		alerts = append(alerts, domain.Alert{
			Type:        domain.AlertUnusualAmount,
			Severity:    domain.SeverityWarning,
			Action:      domain.ActionReview,
			Title:       "Review required by configuration",
			Description: reason,
			Evidence: []domain.Evidence{
				{Type: "forced_review", Value: reason, Explanation: "Tenant configuration forces review regardless of detector scores"},
			},
		})
	}

	for i := range alerts {
		alerts[i].ID = alertID(tx, now, i)
		alerts[i].TenantID = tx.TenantID
		alerts[i].TxID = tx.ID
		alerts[i].State = domain.ReviewPending
		alerts[i].CreatedAt = now
		if alerts[i].AutoBlocked {
			result.BlockedBySystem = true
		}
	}

	result.Alerts = alerts
	result.RecommendedAction = action
}

// Check and alert IDs are derived from the inputs rather than drawn from
// a random source, so re-running the engine over the same transaction and
// "now" reproduces the result byte for byte, identifiers included.
func checkID(tx *domain.Transaction, now time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("check|%s|%s|%d", tx.TenantID, tx.ID, now.UnixNano()))).String()
}

func alertID(tx *domain.Transaction, now time.Time, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("alert|%s|%s|%d|%d", tx.TenantID, tx.ID, now.UnixNano(), index))).String()
}

// forcedReview reports whether tenant configuration forces a review for
// this transaction independent of detector output.
func (e *Engine) forcedReview(tx *domain.Transaction) (bool, string) {
	if e.cfg.RequireReviewAbove > 0 && tx.Amount > e.cfg.RequireReviewAbove {
		return true, fmt.Sprintf("amount %d exceeds the configured review floor %d", tx.Amount, e.cfg.RequireReviewAbove)
	}
	for _, cat := range e.cfg.RequireReviewForCategories {
		if strings.EqualFold(cat, tx.CategoryCode) {
			return true, fmt.Sprintf("category %s always requires review", tx.CategoryCode)
		}
	}
	return false, ""
}

// policyAlert turns a matched operator rule into a reviewer-visible alert.
// A block-level rule gets a high-severity alert so a blocked transaction is
// always explained by at least one high or critical alert.
func policyAlert(esc policy.Escalation) domain.Alert {
	severity := domain.SeverityWarning
	if esc.Action == domain.ActionBlock {
		severity = domain.SeverityHigh
	}
	return domain.Alert{
		Type:        domain.AlertSuspiciousPattern,
		Severity:    severity,
		Action:      esc.Action,
		Title:       fmt.Sprintf("Policy rule matched: %s", esc.RuleName),
		Description: esc.Reason,
		Evidence: []domain.Evidence{
			{Type: "policy_rule", Value: esc.RuleID, Explanation: esc.Reason},
		},
	}
}

// audit records the completed check. The result is already final; a
// recording failure is surfaced but never discards the decision.
func (e *Engine) audit(ctx context.Context, tx *domain.Transaction, result *domain.FraudCheckResult) error {
	if e.recorder == nil {
		return nil
	}
	if !e.cfg.LogAllChecks && len(result.Alerts) == 0 {
		return nil
	}
	if err := e.recorder.Record(ctx, tx.TenantID, "", domain.AuditFraudCheck, result); err != nil {
		e.logger.Error("audit record failed", "tenant_id", tx.TenantID, "tx_id", tx.ID, "error", err)
		return errors.Join(ErrAuditFailed, err)
	}
	return nil
}

func wasSkipped(skipped []domain.SkippedCheck, name string) bool {
	for _, s := range skipped {
		if s.Name == name {
			return true
		}
	}
	return false
}

// clearResult drops the partial output of a detector that failed mid-run.
func clearResult(r *domain.FraudCheckResult, name string) {
	switch name {
	case domain.CheckDuplicate:
		r.Duplicate = nil
	case domain.CheckThreshold:
		r.Threshold = nil
	case domain.CheckPattern:
		r.Pattern = nil
	case domain.CheckAnomaly:
		r.Amount, r.Frequency, r.Category = nil, nil, nil
	case domain.CheckVelocity:
		r.Velocity = nil
	}
}
