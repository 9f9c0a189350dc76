// Package policy provides the CEL-Go based escalation rule engine.
// Operators author rules that raise the recommended action when detector
// outputs match an expression; rules escalate, never relax.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates escalation rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// Escalation is one matched rule's contribution to the final decision.
type Escalation struct {
	RuleID   string
	RuleName string
	Action   domain.Action
	Reason   string
}

// NewEngine creates a rule engine with the detector output vocabulary.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("jurisdiction", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		// Detector outputs
		cel.Variable("duplicate_score", cel.DoubleType),
		cel.Variable("is_duplicate", cel.BoolType),
		cel.Variable("threshold_exceeded", cel.BoolType),
		cel.Variable("threshold_warning", cel.BoolType),
		cel.Variable("annual_pct", cel.DoubleType),
		cel.Variable("pattern_risk_score", cel.IntType),
		cel.Variable("pattern_high_risk", cel.BoolType),
		cel.Variable("anomaly_score", cel.DoubleType),
		cel.Variable("amount_zscore", cel.DoubleType),
		cel.Variable("velocity_ratio", cel.DoubleType),
		cel.Variable("velocity_spike", cel.BoolType),
		cel.Variable("alert_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// Validate compiles a rule without mutating the loaded set.
func (e *Engine) Validate(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// Load compiles and loads a single rule.
func (e *Engine) Load(rule *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}
	e.compiledRules[rule.ID] = compiled
	return nil
}

// Reload atomically replaces the loaded rule set. Disabled rules are
// skipped; a compile failure leaves the previous set in place.
func (e *Engine) Reload(rules []*domain.PolicyRule) error {
	next := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiledRules = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule definitions.
func (e *Engine) LoadedRules() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PolicyRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Evaluate runs every loaded rule against the finished check result and
// returns the escalations for rules that matched. A failing rule is
// skipped rather than failing the whole decision; the engine already made
// a conservative call without it.
func (e *Engine) Evaluate(tx *domain.Transaction, jurisdiction string, result *domain.FraudCheckResult) []Escalation {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := buildActivation(tx, jurisdiction, result)

	var escalations []Escalation
	for _, rule := range rules {
		if rule.Rule.Jurisdiction != "" && !strings.EqualFold(rule.Rule.Jurisdiction, jurisdiction) {
			continue
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		escalations = append(escalations, Escalation{
			RuleID:   rule.Rule.ID,
			RuleName: rule.Rule.Name,
			Action:   rule.Rule.Action,
			Reason:   rule.Rule.Reason,
		})
	}
	return escalations
}

func buildActivation(tx *domain.Transaction, jurisdiction string, result *domain.FraudCheckResult) map[string]any {
	activation := map[string]any{
		"tx": map[string]any{
			"id":           tx.ID,
			"amount":       tx.Amount,
			"category":     tx.CategoryCode,
			"counterparty": tx.Counterparty,
			"merchant_id":  tx.MerchantID,
			"description":  tx.Description,
		},
		"amount":       tx.Amount,
		"category":     tx.CategoryCode,
		"jurisdiction": jurisdiction,
		"counterparty": tx.Counterparty,
		"merchant_id":  tx.MerchantID,

		"duplicate_score":    0.0,
		"is_duplicate":       false,
		"threshold_exceeded": false,
		"threshold_warning":  false,
		"annual_pct":         0.0,
		"pattern_risk_score": 0,
		"pattern_high_risk":  false,
		"anomaly_score":      0.0,
		"amount_zscore":      0.0,
		"velocity_ratio":     0.0,
		"velocity_spike":     false,
		"alert_count":        len(result.Alerts),
	}

	if d := result.Duplicate; d != nil {
		activation["duplicate_score"] = d.Score
		activation["is_duplicate"] = d.IsDuplicate
	}
	if t := result.Threshold; t != nil {
		activation["threshold_exceeded"] = t.HasExceeded
		activation["threshold_warning"] = t.HasWarning
		activation["annual_pct"] = t.AnnualPct
	}
	if p := result.Pattern; p != nil {
		activation["pattern_risk_score"] = p.RiskScore
		activation["pattern_high_risk"] = p.IsHighRisk
	}
	if a := result.Amount; a != nil {
		activation["anomaly_score"] = a.Score
		activation["amount_zscore"] = a.ZScore
	}
	if v := result.Velocity; v != nil {
		activation["velocity_ratio"] = v.Acceleration
		activation["velocity_spike"] = v.IsSpike
	}
	return activation
}

func (e *Engine) compile(rule *domain.PolicyRule) (*CompiledRule, error) {
	if rule.Expression == "" {
		return nil, fmt.Errorf("policy %s: expression is required", rule.ID)
	}
	switch rule.Action {
	case domain.ActionBlock, domain.ActionReview, domain.ActionWarn:
	default:
		return nil, fmt.Errorf("policy %s: action %q cannot be an escalation floor", rule.ID, rule.Action)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
