// Package anomaly derives z-score based anomaly signals from history.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Minimum history preconditions. Below these the detector returns a
// neutral result, never a false positive from too little data.
const (
	minAmountHistory    = 5
	minFrequencyDays    = 14
	minCategoryHistory  = 20
	rareCategoryShare   = 0.05
	scoreSaturationZ    = 5.0
)

// Detector flags statistical outliers against supplied history.
type Detector struct {
	// StdDevThreshold is the z-score above which a value is anomalous.
	// Conservative default 2.0.
	StdDevThreshold float64
}

// NewDetector creates an anomaly detector.
func NewDetector(stdDevThreshold float64) *Detector {
	if stdDevThreshold <= 0 {
		stdDevThreshold = 2.0
	}
	return &Detector{StdDevThreshold: stdDevThreshold}
}

// CheckAmount scores the transaction amount against same-category history.
// Requires at least 5 same-category points; the normalized score is
// min(z/5, 1) so it saturates at 1.0 for extreme outliers.
func (d *Detector) CheckAmount(tx *domain.Transaction, sameCategory domain.History) *domain.AnomalyScore {
	result := &domain.AnomalyScore{Kind: domain.AnomalyAmount}

	var amounts []float64
	for _, prior := range sameCategory {
		if prior.ID == tx.ID {
			continue
		}
		amounts = append(amounts, float64(prior.Amount))
	}

	if len(amounts) < minAmountHistory {
		result.Reason = fmt.Sprintf("insufficient history: %d same-category transactions, need %d", len(amounts), minAmountHistory)
		return result
	}

	mean, stdDev := meanStdDev(amounts)
	result.Mean = mean
	result.StdDev = stdDev
	result.RangeLow = mean - d.StdDevThreshold*stdDev
	result.RangeHigh = mean + d.StdDevThreshold*stdDev

	amount := float64(tx.Amount)
	if stdDev == 0 {
		// Perfectly uniform history: any deviation is maximally anomalous.
		// The z-score is pinned at the saturation point rather than +Inf so
		// results stay JSON-serializable for the audit trail.
		if amount != mean {
			result.ZScore = scoreSaturationZ
			result.Score = 1.0
			result.IsAnomaly = true
			result.Reason = fmt.Sprintf("amount %d deviates from a perfectly uniform history mean of %.0f", tx.Amount, mean)
		} else {
			result.Reason = "amount matches uniform history"
		}
		return result
	}

	z := math.Abs(amount-mean) / stdDev
	result.ZScore = z
	result.Score = math.Min(z/scoreSaturationZ, 1.0)
	result.IsAnomaly = z > d.StdDevThreshold
	if result.IsAnomaly {
		result.Reason = fmt.Sprintf("amount %d is %.1f standard deviations from the category mean %.0f", tx.Amount, z, mean)
	} else {
		result.Reason = fmt.Sprintf("amount within %.1f standard deviations of the category mean", z)
	}
	return result
}

// CheckFrequency buckets history by calendar day and flags the most recent
// day's transaction count under the same z-score rule. Requires history
// spanning at least 14 days.
func (d *Detector) CheckFrequency(history domain.History, now time.Time) *domain.AnomalyScore {
	result := &domain.AnomalyScore{Kind: domain.AnomalyFrequency}

	if len(history) == 0 {
		result.Reason = "no history supplied"
		return result
	}

	counts := make(map[string]int)
	var firstDay, lastDay time.Time
	for _, tx := range history {
		day := tx.Date.UTC().Truncate(24 * time.Hour)
		counts[day.Format("2006-01-02")]++
		if firstDay.IsZero() || day.Before(firstDay) {
			firstDay = day
		}
		if day.After(lastDay) {
			lastDay = day
		}
	}

	spanDays := int(lastDay.Sub(firstDay).Hours()/24) + 1
	if spanDays < minFrequencyDays {
		result.Reason = fmt.Sprintf("insufficient history: %d days, need %d", spanDays, minFrequencyDays)
		return result
	}

	// Every day in the span counts, including zero-transaction days.
	var daily []float64
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		daily = append(daily, float64(counts[day.Format("2006-01-02")]))
	}

	mean, stdDev := meanStdDev(daily)
	result.Mean = mean
	result.StdDev = stdDev
	result.RangeLow = mean - d.StdDevThreshold*stdDev
	result.RangeHigh = mean + d.StdDevThreshold*stdDev

	recent := float64(counts[lastDay.Format("2006-01-02")])
	if stdDev == 0 {
		result.Reason = "daily transaction counts are uniform"
		return result
	}

	z := math.Abs(recent-mean) / stdDev
	result.ZScore = z
	result.Score = math.Min(z/scoreSaturationZ, 1.0)
	result.IsAnomaly = z > d.StdDevThreshold
	if result.IsAnomaly {
		result.Reason = fmt.Sprintf("%.0f transactions on %s vs a daily mean of %.1f", recent, lastDay.Format("2006-01-02"), mean)
	} else {
		result.Reason = "daily transaction count within the accepted range"
	}
	return result
}

// CheckCategory flags the transaction's category as anomalous when it
// accounts for under 5% of the tenant's history and that history carries
// at least 20 transactions. New categories in thin histories are expected,
// not suspicious.
func (d *Detector) CheckCategory(tx *domain.Transaction, history domain.History) *domain.AnomalyScore {
	result := &domain.AnomalyScore{Kind: domain.AnomalyCategory}

	if tx.CategoryCode == "" {
		result.Reason = "transaction has no category"
		return result
	}
	if len(history) < minCategoryHistory {
		result.Reason = fmt.Sprintf("insufficient history: %d transactions, need %d", len(history), minCategoryHistory)
		return result
	}

	var inCategory int
	for _, prior := range history {
		if prior.CategoryCode == tx.CategoryCode {
			inCategory++
		}
	}

	share := float64(inCategory) / float64(len(history))
	result.Mean = share
	if share < rareCategoryShare {
		result.IsAnomaly = true
		result.Score = 1.0 - share/rareCategoryShare
		result.Reason = fmt.Sprintf("category %s accounts for %.1f%% of %d historical transactions", tx.CategoryCode, share*100, len(history))
	} else {
		result.Reason = fmt.Sprintf("category %s is established (%.1f%% of history)", tx.CategoryCode, share*100)
	}
	return result
}

// meanStdDev computes the mean and population standard deviation.
func meanStdDev(values []float64) (mean, stdDev float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / n)
}
