package policy

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func testRule(id, expr string, action domain.Action) *domain.PolicyRule {
	return &domain.PolicyRule{
		ID:         id,
		TenantID:   "tenant-1",
		Name:       id,
		Version:    "1.0",
		Expression: expr,
		Action:     action,
		Reason:     "test rule " + id,
		Enabled:    true,
	}
}

func TestLoadAndEvaluate(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.Load(testRule("high-amount", "amount > 500000", domain.ActionReview)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := &domain.Transaction{ID: "tx-1", Amount: 600_000, CategoryCode: "travel"}
	result := &domain.FraudCheckResult{}

	escalations := engine.Evaluate(tx, "US", result)
	if len(escalations) != 1 {
		t.Fatalf("got %d escalations, want 1", len(escalations))
	}
	if escalations[0].Action != domain.ActionReview {
		t.Errorf("action = %s, want review", escalations[0].Action)
	}

	tx.Amount = 100_000
	if got := engine.Evaluate(tx, "US", result); len(got) != 0 {
		t.Errorf("got %d escalations below the threshold, want 0", len(got))
	}
}

func TestDetectorOutputsVisible(t *testing.T) {
	engine := newTestEngine(t)

	rules := []*domain.PolicyRule{
		testRule("dup", "duplicate_score >= 0.5", domain.ActionWarn),
		testRule("vel", "velocity_spike && velocity_ratio > 3.0", domain.ActionReview),
		testRule("combo", "threshold_warning && anomaly_score > 0.5", domain.ActionBlock),
	}
	if err := engine.Reload(rules); err != nil {
		t.Fatalf("failed to reload rules: %v", err)
	}

	tx := &domain.Transaction{ID: "tx-1", Amount: 10_000}
	result := &domain.FraudCheckResult{
		Duplicate: &domain.DuplicateCheck{Score: 0.6},
		Threshold: &domain.ThresholdStatus{HasWarning: true},
		Amount:    &domain.AnomalyScore{Score: 0.9},
		Velocity:  &domain.VelocityCheck{IsSpike: true, Acceleration: 4.0},
	}

	escalations := engine.Evaluate(tx, "US", result)
	if len(escalations) != 3 {
		t.Fatalf("got %d escalations, want 3", len(escalations))
	}
}

func TestNilDetectorResultsDefaultSafe(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.Load(testRule("dup", "is_duplicate", domain.ActionBlock)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := &domain.Transaction{ID: "tx-1", Amount: 10_000}
	// No detector outputs at all: variables fall back to zero values.
	if got := engine.Evaluate(tx, "US", &domain.FraudCheckResult{}); len(got) != 0 {
		t.Errorf("got %d escalations with no detector output, want 0", len(got))
	}
}

func TestJurisdictionScoping(t *testing.T) {
	engine := newTestEngine(t)

	rule := testRule("de-only", "amount > 0", domain.ActionWarn)
	rule.Jurisdiction = "DE"
	if err := engine.Load(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := &domain.Transaction{ID: "tx-1", Amount: 10_000}
	result := &domain.FraudCheckResult{}

	if got := engine.Evaluate(tx, "US", result); len(got) != 0 {
		t.Error("DE-scoped rule must not fire for US")
	}
	if got := engine.Evaluate(tx, "de", result); len(got) != 1 {
		t.Error("jurisdiction match should be case-insensitive")
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name string
		rule *domain.PolicyRule
	}{
		{"nil rule", nil},
		{"empty expression", testRule("r1", "", domain.ActionWarn)},
		{"syntax error", testRule("r2", "amount >>> 5", domain.ActionWarn)},
		{"non-bool result", testRule("r3", "amount + 1", domain.ActionWarn)},
		{"unknown variable", testRule("r4", "nonexistent > 5", domain.ActionWarn)},
		{"allow floor", testRule("r5", "amount > 5", domain.ActionAllow)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.Validate(tc.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("validation must not load rules, have %d", engine.RulesCount())
	}
}

func TestReloadReplacesAtomically(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.Load(testRule("old", "amount > 0", domain.ActionWarn)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	// A reload with a broken rule must keep the previous set.
	bad := []*domain.PolicyRule{testRule("broken", "not valid cel (", domain.ActionWarn)}
	if err := engine.Reload(bad); err == nil {
		t.Fatal("expected reload error for broken rule")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("failed reload must keep previous rules, have %d", engine.RulesCount())
	}

	disabled := testRule("off", "amount > 0", domain.ActionWarn)
	disabled.Enabled = false
	if err := engine.Reload([]*domain.PolicyRule{
		testRule("new", "amount > 100", domain.ActionReview),
		disabled,
	}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("disabled rules must be skipped, have %d", engine.RulesCount())
	}
}

func TestFailingRuleSkipped(t *testing.T) {
	engine := newTestEngine(t)

	// Division by a zero-valued variable fails at eval time.
	if err := engine.Load(testRule("div", "100 / pattern_risk_score > 2", domain.ActionWarn)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if err := engine.Load(testRule("ok", "amount > 0", domain.ActionWarn)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := &domain.Transaction{ID: "tx-1", Amount: 10_000}
	escalations := engine.Evaluate(tx, "US", &domain.FraudCheckResult{})

	if len(escalations) != 1 || escalations[0].RuleID != "ok" {
		t.Errorf("failing rule must be skipped, got %+v", escalations)
	}
}
