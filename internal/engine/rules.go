package engine

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// synthRule is one row of the alert-synthesis table. Rows are evaluated in
// order and every matching row contributes exactly one alert, so the alert
// list is ordered by severity without a sort step.
type synthRule struct {
	match func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool
	build func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert
}

// synthesisTable maps detector outputs to alerts. The duplicate tiers are
// mutually exclusive so a single check never produces two duplicate alerts
// for the same best match.
var synthesisTable = []synthRule{
	// Duplicate score at or above the auto-block cutoff. The only rule that
	// blocks without a human in the loop.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Duplicate != nil && r.Duplicate.Score >= cfg.AutoBlockDuplicateScore
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertDuplicate,
				Severity:    domain.SeverityCritical,
				Action:      domain.ActionBlock,
				AutoBlocked: true,
				Title:       "Near-certain duplicate submission",
				Description: fmt.Sprintf("Similarity %.2f against transaction %s is at or above the auto-block cutoff %.2f", r.Duplicate.Score, r.Duplicate.BestMatchID, cfg.AutoBlockDuplicateScore),
				Evidence:    duplicateEvidence(r.Duplicate),
			}
		},
	},

	// Any configured limit strictly exceeded.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Threshold != nil && r.Threshold.HasExceeded
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertThresholdExceeded,
				Severity:    domain.SeverityCritical,
				Action:      domain.ActionBlock,
				Title:       fmt.Sprintf("%s limit exceeded for category %s", r.Threshold.LimitType, r.Threshold.CategoryCode),
				Description: "Accepting this transaction would put the category over its configured limit",
				Evidence:    thresholdEvidence(r.Threshold),
			}
		},
	},

	// Duplicate score in the block band, held for review.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Duplicate != nil &&
				r.Duplicate.Score >= cfg.BlockDuplicateScore &&
				r.Duplicate.Score < cfg.AutoBlockDuplicateScore
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertDuplicate,
				Severity:    domain.SeverityHigh,
				Action:      domain.ActionBlock,
				Title:       "Probable duplicate submission",
				Description: fmt.Sprintf("Similarity %.2f against transaction %s, blocked pending review", r.Duplicate.Score, r.Duplicate.BestMatchID),
				Evidence:    duplicateEvidence(r.Duplicate),
			}
		},
	},

	// Year-end spike combined with an accelerating submission rate.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Pattern != nil && r.Pattern.YearEndSpike &&
				r.Pattern.Acceleration > cfg.Pattern.AccelerationFactor
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertSuspiciousPattern,
				Severity:    domain.SeverityHigh,
				Action:      domain.ActionReview,
				Title:       "Accelerating year-end deduction activity",
				Description: fmt.Sprintf("Year-end share combined with a %.1fx submission rate increase", r.Pattern.Acceleration),
				Evidence: []domain.Evidence{
					{Type: "year_end_spike", Value: "true", Explanation: "Deduction volume concentrated in the final days of the year"},
					{Type: "acceleration", Value: fmt.Sprintf("%.2f", r.Pattern.Acceleration), Explanation: fmt.Sprintf("Submission rate grew more than %.1fx over the window", cfg.Pattern.AccelerationFactor)},
				},
			}
		},
	},

	// Amount anomaly strong enough to force review.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Amount != nil && r.Amount.IsAnomaly &&
				r.Amount.Score > cfg.AnomalyScoreReviewThreshold
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertUnusualAmount,
				Severity:    domain.SeverityHigh,
				Action:      domain.ActionReview,
				Title:       "Amount far outside the category's normal range",
				Description: r.Amount.Reason,
				Evidence:    anomalyEvidence(r.Amount),
			}
		},
	},

	// Duplicate score above the warn cutoff but below the block band.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Duplicate != nil && r.Duplicate.IsDuplicate &&
				r.Duplicate.Score < cfg.BlockDuplicateScore
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertDuplicate,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Possible duplicate submission",
				Description: fmt.Sprintf("Similarity %.2f against transaction %s", r.Duplicate.Score, r.Duplicate.BestMatchID),
				Evidence:    duplicateEvidence(r.Duplicate),
			}
		},
	},

	// Usage approaching a limit without exceeding any.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Threshold != nil && r.Threshold.HasWarning && !r.Threshold.HasExceeded
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertThresholdApproaching,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       fmt.Sprintf("Category %s approaching a limit", r.Threshold.CategoryCode),
				Description: fmt.Sprintf("Usage has crossed %.0f%% of a configured limit", r.Threshold.WarningRatio*100),
				Evidence:    thresholdEvidence(r.Threshold),
			}
		},
	},

	// Amount anomaly below the review cutoff.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Amount != nil && r.Amount.IsAnomaly &&
				r.Amount.Score <= cfg.AnomalyScoreReviewThreshold
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertUnusualAmount,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Amount outside the category's normal range",
				Description: r.Amount.Reason,
				Evidence:    anomalyEvidence(r.Amount),
			}
		},
	},

	// Submission rate spike, burst, or both.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Velocity != nil && (r.Velocity.IsSpike || r.Velocity.BurstDetected)
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertVelocitySpike,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Submission rate spike",
				Description: fmt.Sprintf("Current rate %.2f tx/day against a historical %.2f tx/day", r.Velocity.CurrentRate, r.Velocity.HistoricalRate),
				Evidence:    velocityEvidence(r.Velocity),
			}
		},
	},

	// Unusual number of submissions on the most recent day.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Frequency != nil && r.Frequency.IsAnomaly
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertVelocitySpike,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Unusual daily submission count",
				Description: r.Frequency.Reason,
				Evidence:    anomalyEvidence(r.Frequency),
			}
		},
	},

	// Weighted pattern classifier over the cutoff, outside the year-end
	// escalation already covered above.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			if r.Pattern == nil || !r.Pattern.IsHighRisk {
				return false
			}
			return !(r.Pattern.YearEndSpike && r.Pattern.Acceleration > cfg.Pattern.AccelerationFactor)
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertSuspiciousPattern,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Suspicious submission pattern",
				Description: fmt.Sprintf("Pattern risk score %d at or above the cutoff %d", r.Pattern.RiskScore, cfg.Pattern.HighRiskCutoff),
				Evidence:    patternEvidence(r.Pattern),
			}
		},
	},

	// Round-amount concentration on its own, below the classifier cutoff.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Pattern != nil && !r.Pattern.IsHighRisk &&
				r.Pattern.RoundAmountRatio >= cfg.Pattern.RoundAmountRatio &&
				r.Pattern.RoundAmountRatio > 0
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertRoundAmountPattern,
				Severity:    domain.SeverityWarning,
				Action:      domain.ActionWarn,
				Title:       "Concentration of round amounts",
				Description: fmt.Sprintf("%.0f%% of recent amounts are round figures", r.Pattern.RoundAmountRatio*100),
				Evidence: []domain.Evidence{
					{Type: "round_amount_ratio", Value: fmt.Sprintf("%.2f", r.Pattern.RoundAmountRatio), Explanation: "Fabricated figures skew toward round numbers"},
				},
			}
		},
	},

	// Category rarely used by this tenant. Informational only.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Category != nil && r.Category.IsAnomaly
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertCategoryAnomaly,
				Severity:    domain.SeverityInfo,
				Action:      domain.ActionAllow,
				Title:       "Rarely used category",
				Description: r.Category.Reason,
				Evidence:    anomalyEvidence(r.Category),
			}
		},
	},

	// Timing notes: weekend-heavy or end-of-month bunching. Informational.
	{
		match: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) bool {
			return r.Pattern != nil && !r.Pattern.IsHighRisk &&
				(r.Pattern.WeekendRatio > 0.5 || r.Pattern.EndOfMonthSpike)
		},
		build: func(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) domain.Alert {
			return domain.Alert{
				Type:        domain.AlertTimingAnomaly,
				Severity:    domain.SeverityInfo,
				Action:      domain.ActionAllow,
				Title:       "Unusual submission timing",
				Description: fmt.Sprintf("Weekend ratio %.2f, end-of-month spike %t", r.Pattern.WeekendRatio, r.Pattern.EndOfMonthSpike),
				Evidence: []domain.Evidence{
					{Type: "weekend_ratio", Value: fmt.Sprintf("%.2f", r.Pattern.WeekendRatio), Explanation: "Share of submissions dated on weekends"},
					{Type: "end_of_month_spike", Value: fmt.Sprintf("%t", r.Pattern.EndOfMonthSpike), Explanation: "Submissions bunch in the final days of the month"},
				},
			}
		},
	},
}

// synthesize runs the table against a populated result and returns the
// ordered alert list. Identity and lifecycle fields are filled by the
// caller.
func synthesize(cfg *domain.ScreeningConfig, r *domain.FraudCheckResult) []domain.Alert {
	var alerts []domain.Alert
	for _, rule := range synthesisTable {
		if rule.match(cfg, r) {
			alerts = append(alerts, rule.build(cfg, r))
		}
	}
	return alerts
}

func duplicateEvidence(d *domain.DuplicateCheck) []domain.Evidence {
	ev := []domain.Evidence{
		{Type: "similarity_score", Value: fmt.Sprintf("%.2f", d.Score), Explanation: "Weighted similarity against the best-matching prior transaction"},
		{Type: "best_match", Value: d.BestMatchID, Explanation: "Prior transaction with the highest similarity"},
	}
	if d.SameAmount {
		ev = append(ev, domain.Evidence{Type: "same_amount", Value: "true", Explanation: "Identical amount"})
	}
	if d.SameDate {
		ev = append(ev, domain.Evidence{Type: "same_date", Value: "true", Explanation: "Same calendar day"})
	}
	if d.SameDescription {
		ev = append(ev, domain.Evidence{Type: "same_description", Value: "true", Explanation: "Identical description after normalization"})
	}
	if d.SameCounterparty {
		ev = append(ev, domain.Evidence{Type: "same_counterparty", Value: "true", Explanation: "Identical counterparty"})
	}
	return ev
}

func thresholdEvidence(s *domain.ThresholdStatus) []domain.Evidence {
	return []domain.Evidence{
		{Type: "daily_pct", Value: fmt.Sprintf("%.2f", s.DailyPct), Explanation: fmt.Sprintf("Daily usage %d minor units", s.DailyUsed)},
		{Type: "monthly_pct", Value: fmt.Sprintf("%.2f", s.MonthlyPct), Explanation: fmt.Sprintf("Monthly usage %d minor units", s.MonthlyUsed)},
		{Type: "annual_pct", Value: fmt.Sprintf("%.2f", s.AnnualPct), Explanation: fmt.Sprintf("Annual usage %d minor units", s.AnnualUsed)},
	}
}

func patternEvidence(p *domain.PatternCheck) []domain.Evidence {
	ev := []domain.Evidence{
		{Type: "risk_score", Value: fmt.Sprintf("%d", p.RiskScore), Explanation: "Weighted sum of the pattern signals"},
		{Type: "round_amount_ratio", Value: fmt.Sprintf("%.2f", p.RoundAmountRatio), Explanation: "Share of recent amounts that are round figures"},
		{Type: "acceleration", Value: fmt.Sprintf("%.2f", p.Acceleration), Explanation: "Submission rate relative to the start of the window"},
	}
	if p.CategoryDominance {
		ev = append(ev, domain.Evidence{Type: "dominant_category", Value: p.DominantCategory, Explanation: "One category dominates recent submissions"})
	}
	if p.TopMerchantID != "" {
		ev = append(ev, domain.Evidence{Type: "merchant_concentration", Value: fmt.Sprintf("%.2f", p.MerchantConcentration), Explanation: fmt.Sprintf("Share of submissions against merchant %s", p.TopMerchantID)})
	}
	return ev
}

func anomalyEvidence(a *domain.AnomalyScore) []domain.Evidence {
	return []domain.Evidence{
		{Type: string(a.Kind) + "_score", Value: fmt.Sprintf("%.2f", a.Score), Explanation: a.Reason},
		{Type: "z_score", Value: fmt.Sprintf("%.2f", a.ZScore), Explanation: fmt.Sprintf("Mean %.2f, standard deviation %.2f", a.Mean, a.StdDev)},
	}
}

func velocityEvidence(v *domain.VelocityCheck) []domain.Evidence {
	ev := []domain.Evidence{
		{Type: "current_rate", Value: fmt.Sprintf("%.2f", v.CurrentRate), Explanation: "Transactions per day over the trailing seven days"},
		{Type: "acceleration", Value: fmt.Sprintf("%.2f", v.Acceleration), Explanation: "Current rate relative to the preceding thirty days"},
	}
	if v.BurstDetected {
		ev = append(ev, domain.Evidence{Type: "burst_count", Value: fmt.Sprintf("%d", v.BurstCount), Explanation: "Transactions in the trailing hour"})
	}
	if v.IsAccelerating {
		ev = append(ev, domain.Evidence{Type: "momentum", Value: fmt.Sprintf("%.2f", v.Momentum), Explanation: "Week-over-week rate growth is itself increasing"})
	}
	return ev
}
