package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

var testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cat domain.Catalog) *Engine {
	t.Helper()
	if cat == nil {
		cat = catalog.NewSeeded()
	}
	return New(domain.DefaultScreeningConfig(), cat, nil, nil, nil)
}

func tx(id string, amount int64, date time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:           id,
		TenantID:     "tenant-a",
		Amount:       amount,
		Date:         date,
		Description:  fmt.Sprintf("office supplies order %s", id),
		Counterparty: "Staples Inc",
		CategoryCode: "equipment",
	}
}

// quietHistory is a steady cadence of dissimilar transactions, one every
// three days, that trips none of the detectors: the rate is even, the
// amounts are varied and non-round, and nothing resembles a duplicate.
func quietHistory() domain.History {
	var h domain.History
	for i := 1; i <= 13; i++ {
		t := tx(fmt.Sprintf("prior-%d", i), int64(10_371+i*777), testNow.AddDate(0, 0, -3*i))
		t.Description = fmt.Sprintf("vendor invoice %d consulting", i)
		t.Counterparty = fmt.Sprintf("Vendor %d", i)
		h = append(h, t)
	}
	return h
}

func TestCleanTransactionAllows(t *testing.T) {
	eng := newTestEngine(t, nil)

	result, err := eng.Check(context.Background(), &Input{
		Transaction:  tx("tx-clean", 12_500, testNow),
		History:      quietHistory(),
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.RecommendedAction != domain.ActionAllow {
		t.Errorf("action = %s, want allow (alerts: %+v)", result.RecommendedAction, result.Alerts)
	}
	if result.BlockedBySystem {
		t.Error("clean transaction marked blocked by system")
	}
	if len(result.ChecksPerformed) != 5 {
		t.Errorf("ChecksPerformed = %v, want all 5", result.ChecksPerformed)
	}
	if len(result.ChecksSkipped) != 0 {
		t.Errorf("ChecksSkipped = %v, want none", result.ChecksSkipped)
	}
	if !result.CheckedAt.Equal(testNow) {
		t.Errorf("CheckedAt = %v, want the supplied now %v", result.CheckedAt, testNow)
	}
}

func TestExactDuplicateAutoBlocks(t *testing.T) {
	eng := newTestEngine(t, nil)

	candidate := tx("tx-dup", 50_000, testNow)
	prior := tx("tx-orig", 50_000, testNow)
	prior.Description = candidate.Description

	history := append(quietHistory(), prior)
	result, err := eng.Check(context.Background(), &Input{
		Transaction:  candidate,
		History:      history,
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.RecommendedAction != domain.ActionBlock {
		t.Fatalf("action = %s, want block", result.RecommendedAction)
	}
	if !result.BlockedBySystem {
		t.Error("auto-block did not set BlockedBySystem")
	}

	var found bool
	for _, a := range result.Alerts {
		if a.Type == domain.AlertDuplicate && a.Severity == domain.SeverityCritical {
			found = true
			if !a.AutoBlocked {
				t.Error("critical duplicate alert missing AutoBlocked")
			}
			if len(a.Evidence) == 0 {
				t.Error("critical duplicate alert carries no evidence")
			}
			if a.State != domain.ReviewPending {
				t.Errorf("alert state = %s, want pending", a.State)
			}
		}
	}
	if !found {
		t.Fatalf("no critical duplicate alert in %+v", result.Alerts)
	}
}

func TestThresholdExceededBlocks(t *testing.T) {
	cat := catalog.NewStatic([]*domain.ThresholdConfig{{
		Jurisdiction:        "US",
		CategoryCode:        "equipment",
		PerTransactionLimit: 25_000,
		WarningRatio:        0.8,
		Enabled:             true,
	}})
	eng := newTestEngine(t, cat)

	result, err := eng.Check(context.Background(), &Input{
		Transaction:  tx("tx-big", 30_000, testNow),
		History:      quietHistory(),
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.RecommendedAction != domain.ActionBlock {
		t.Fatalf("action = %s, want block", result.RecommendedAction)
	}
	if result.Threshold == nil || result.Threshold.LimitType != domain.LimitPerTransaction {
		t.Errorf("threshold = %+v, want per_transaction exceeded", result.Threshold)
	}
	assertBlockExplained(t, result)
}

// Unknown jurisdictions resolve to the conservative defaults instead of
// silently skipping the threshold check.
func TestUnknownJurisdictionUsesDefaults(t *testing.T) {
	eng := newTestEngine(t, catalog.NewStatic(nil))

	// Over the conservative per-transaction limit of 100,000 minor units.
	result, err := eng.Check(context.Background(), &Input{
		Transaction:  tx("tx-xx", 150_000, testNow),
		History:      quietHistory(),
		Jurisdiction: "XX",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.Threshold == nil {
		t.Fatal("threshold check was skipped for an unknown jurisdiction")
	}
	if !result.Threshold.HasExceeded {
		t.Errorf("threshold = %+v, want exceeded under conservative defaults", result.Threshold)
	}
	if result.RecommendedAction != domain.ActionBlock {
		t.Errorf("action = %s, want block", result.RecommendedAction)
	}
}

func TestActionDominance(t *testing.T) {
	// Per-transaction cap low enough to block, plus a near-duplicate that
	// would only warn. Block must win.
	cat := catalog.NewStatic([]*domain.ThresholdConfig{{
		Jurisdiction:        "US",
		CategoryCode:        "equipment",
		PerTransactionLimit: 25_000,
		WarningRatio:        0.8,
		Enabled:             true,
	}})
	eng := newTestEngine(t, cat)

	candidate := tx("tx-mixed", 30_000, testNow)
	near := tx("tx-near", 30_400, testNow.AddDate(0, 0, -3))
	near.Description = "unrelated travel booking"

	result, err := eng.Check(context.Background(), &Input{
		Transaction:  candidate,
		History:      append(quietHistory(), near),
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.RecommendedAction != domain.ActionBlock {
		t.Errorf("action = %s, want block to dominate", result.RecommendedAction)
	}
	assertBlockExplained(t, result)
}

func TestDeterministicForFixedInputs(t *testing.T) {
	eng := newTestEngine(t, nil)

	input := &Input{
		Transaction:  tx("tx-det", 42_000, testNow.AddDate(0, 0, -1)),
		History:      quietHistory(),
		Jurisdiction: "DE",
		Now:          testNow,
	}

	first, err := eng.Check(context.Background(), input)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	second, err := eng.Check(context.Background(), input)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}

	// IDs are input-derived, so the whole result is comparable byte for
	// byte with nothing stripped.
	if got, want := marshal(t, second), marshal(t, first); got != want {
		t.Errorf("results differ for identical inputs:\n%s\nvs\n%s", got, want)
	}
}

func TestForcedReviewConfiguration(t *testing.T) {
	cfg := domain.DefaultScreeningConfig()
	cfg.RequireReviewAbove = 20_000
	cfg.RequireReviewForCategories = []string{"Charitable"}
	eng := New(cfg, catalog.NewSeeded(), nil, nil, nil)

	t.Run("AboveAmountFloor", func(t *testing.T) {
		result, err := eng.Check(context.Background(), &Input{
			Transaction: tx("tx-floor", 25_000, testNow),
			History:     quietHistory(),
			Now:         testNow,
		})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.RecommendedAction != domain.ActionReview {
			t.Errorf("action = %s, want review", result.RecommendedAction)
		}
	})

	t.Run("FlaggedCategory", func(t *testing.T) {
		candidate := tx("tx-cat", 5_000, testNow)
		candidate.CategoryCode = "charitable"
		result, err := eng.Check(context.Background(), &Input{
			Transaction: candidate,
			History:     quietHistory(),
			Now:         testNow,
		})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.RecommendedAction != domain.ActionReview {
			t.Errorf("action = %s, want review for flagged category", result.RecommendedAction)
		}
	})

	t.Run("DoesNotRelaxBlock", func(t *testing.T) {
		candidate := tx("tx-dup2", 25_000, testNow)
		prior := tx("tx-orig2", 25_000, testNow)
		prior.Description = candidate.Description
		result, err := eng.Check(context.Background(), &Input{
			Transaction: candidate,
			History:     domain.History{prior},
			Now:         testNow,
		})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.RecommendedAction != domain.ActionBlock {
			t.Errorf("action = %s, forced review must not relax a block", result.RecommendedAction)
		}
	})
}

func TestPolicyEscalation(t *testing.T) {
	policies, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	err = policies.Load(&domain.PolicyRule{
		ID:         "pol-1",
		Name:       "large cash equipment",
		Expression: `amount > 40000 && category == "equipment"`,
		Action:     domain.ActionBlock,
		Reason:     "equipment purchases above the cash reporting floor",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	eng := New(domain.DefaultScreeningConfig(), catalog.NewSeeded(), policies, nil, nil)
	result, err := eng.Check(context.Background(), &Input{
		Transaction:  tx("tx-pol", 45_000, testNow),
		History:      quietHistory(),
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.RecommendedAction != domain.ActionBlock {
		t.Fatalf("action = %s, want block from policy", result.RecommendedAction)
	}
	assertBlockExplained(t, result)
}

func TestHighRiskPatternAlertCarriesEvidence(t *testing.T) {
	cfg := domain.DefaultScreeningConfig()
	result := &domain.FraudCheckResult{
		Pattern: &domain.PatternCheck{
			RiskScore:             5,
			IsHighRisk:            true,
			RoundAmountRatio:      0.8,
			Acceleration:          1.2,
			CategoryDominance:     true,
			DominantCategory:      "meals",
			MerchantConcentration: 0.9,
			TopMerchantID:         "merch-9",
		},
	}

	alerts := synthesize(&cfg, result)

	var pattern *domain.Alert
	for i := range alerts {
		if alerts[i].Type == domain.AlertSuspiciousPattern {
			pattern = &alerts[i]
		}
	}
	if pattern == nil {
		t.Fatalf("no suspicious_pattern alert in %+v", alerts)
	}
	if pattern.Severity != domain.SeverityWarning {
		t.Errorf("severity = %s, want warning", pattern.Severity)
	}

	types := make(map[string]bool)
	for _, ev := range pattern.Evidence {
		types[ev.Type] = true
	}
	for _, want := range []string{"risk_score", "round_amount_ratio", "acceleration", "dominant_category", "merchant_concentration"} {
		if !types[want] {
			t.Errorf("missing %s evidence: %+v", want, pattern.Evidence)
		}
	}
}

// Rules keyed on alert_count must observe the alerts the synthesis table
// produced for this check, not an empty result.
func TestPolicySeesAlertCount(t *testing.T) {
	policies, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	err = policies.Load(&domain.PolicyRule{
		ID:         "pol-count",
		Name:       "any alert needs review",
		Expression: `alert_count >= 1`,
		Action:     domain.ActionReview,
		Reason:     "every flagged transaction goes to a reviewer",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	eng := New(domain.DefaultScreeningConfig(), catalog.NewSeeded(), policies, nil, nil)

	// An exact duplicate guarantees at least one synthesized alert.
	candidate := tx("tx-dup", 50_000, testNow)
	prior := tx("tx-orig", 50_000, testNow)
	prior.Description = candidate.Description

	result, err := eng.Check(context.Background(), &Input{
		Transaction:  candidate,
		History:      append(quietHistory(), prior),
		Jurisdiction: "US",
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	var matched bool
	for _, a := range result.Alerts {
		if a.Title == "Policy rule matched: any alert needs review" {
			matched = true
		}
	}
	if !matched {
		t.Errorf("alert_count rule did not fire; alerts: %+v", result.Alerts)
	}
}

func TestInvalidTransactionFails(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Check(context.Background(), &Input{
		Transaction: &domain.Transaction{ID: "tx-bad", TenantID: "tenant-a", Amount: -5, Date: testNow},
		Now:         testNow,
	})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Errorf("err = %v, want ErrInvalidTransaction", err)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, string, string, domain.AuditAction, any) error {
	return errors.New("disk full")
}

func TestAuditFailureSurfacesWithResult(t *testing.T) {
	eng := New(domain.DefaultScreeningConfig(), catalog.NewSeeded(), nil, failingRecorder{}, nil)

	result, err := eng.Check(context.Background(), &Input{
		Transaction: tx("tx-audit", 12_000, testNow),
		History:     quietHistory(),
		Now:         testNow,
	})
	if !errors.Is(err, ErrAuditFailed) {
		t.Fatalf("err = %v, want ErrAuditFailed", err)
	}
	if result == nil {
		t.Fatal("audit failure discarded the computed result")
	}
}

func TestCheckBatchIsolatesFailures(t *testing.T) {
	eng := newTestEngine(t, nil)

	items := eng.CheckBatch(context.Background(), []*Input{
		{Transaction: tx("tx-b1", 12_000, testNow), History: quietHistory(), Now: testNow},
		{Transaction: &domain.Transaction{ID: "tx-b2"}, Now: testNow},
		{Transaction: tx("tx-b3", 13_000, testNow), History: quietHistory(), Now: testNow},
	})

	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Errorf("valid items failed: %v, %v", items[0].Err, items[2].Err)
	}
	if items[1].Err == nil {
		t.Error("invalid item did not fail")
	}
	for i, item := range items {
		if item.Index != i {
			t.Errorf("item %d has index %d", i, item.Index)
		}
	}
	if items[0].Result == nil || items[0].Result.TxID != "tx-b1" {
		t.Errorf("item 0 result = %+v, want tx-b1", items[0].Result)
	}
}

// assertBlockExplained enforces that a blocking result carries at least one
// high or critical alert with evidence.
func assertBlockExplained(t *testing.T, result *domain.FraudCheckResult) {
	t.Helper()
	if result.RecommendedAction != domain.ActionBlock {
		return
	}
	for _, a := range result.Alerts {
		if (a.Severity == domain.SeverityHigh || a.Severity == domain.SeverityCritical) && len(a.Evidence) > 0 {
			return
		}
	}
	t.Errorf("block recommendation without a high or critical alert: %+v", result.Alerts)
}

func marshal(t *testing.T, result *domain.FraudCheckResult) string {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}
