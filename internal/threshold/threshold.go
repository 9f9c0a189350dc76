// Package threshold evaluates per-category spend against configured limits.
package threshold

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Monitor computes rolling usage for a transaction's category.
type Monitor struct{}

// NewMonitor creates a threshold monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Evaluate sums the candidate plus all same-category history falling in the
// candidate's calendar day, month and year, and compares against the limits.
//
// The per-transaction cap is checked first and short-circuits. Among period
// limits the order is daily, monthly, annual; the first exceeded period is
// the one reported. Exceeded is strict: percentage > 1.0, so spend landing
// exactly on a limit is not exceeded.
func (m *Monitor) Evaluate(tx *domain.Transaction, cfg *domain.ThresholdConfig, history domain.History) *domain.ThresholdStatus {
	status := &domain.ThresholdStatus{
		CategoryCode: tx.CategoryCode,
		WarningRatio: cfg.WarningRatio,
	}

	day := tx.Date.UTC()
	status.DailyUsed = tx.Amount
	status.MonthlyUsed = tx.Amount
	status.AnnualUsed = tx.Amount

	for _, prior := range history {
		if prior.ID == tx.ID || prior.CategoryCode != tx.CategoryCode {
			continue
		}
		d := prior.Date.UTC()
		if d.Year() != day.Year() {
			continue
		}
		status.AnnualUsed += prior.Amount
		if d.Month() == day.Month() {
			status.MonthlyUsed += prior.Amount
		}
		if sameDay(d, day) {
			status.DailyUsed += prior.Amount
		}
	}

	status.DailyPct = percentage(status.DailyUsed, cfg.DailyLimit)
	status.MonthlyPct = percentage(status.MonthlyUsed, cfg.MonthlyLimit)
	status.AnnualPct = percentage(status.AnnualUsed, cfg.AnnualLimit)

	// Per-transaction cap is independent of the rolling sums.
	if cfg.PerTransactionLimit > 0 && tx.Amount > cfg.PerTransactionLimit {
		status.HasExceeded = true
		status.LimitType = domain.LimitPerTransaction
		return status
	}

	periods := []struct {
		pct   float64
		limit domain.LimitType
	}{
		{status.DailyPct, domain.LimitDaily},
		{status.MonthlyPct, domain.LimitMonthly},
		{status.AnnualPct, domain.LimitAnnual},
	}

	for _, p := range periods {
		if p.pct > 1.0 {
			status.HasExceeded = true
			status.LimitType = p.limit
			return status
		}
	}

	ratio := cfg.WarningRatio
	if ratio <= 0 {
		ratio = 0.8
	}
	for _, p := range periods {
		if p.pct >= ratio {
			status.HasWarning = true
			break
		}
	}

	return status
}

func percentage(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
