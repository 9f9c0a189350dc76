// Package pattern characterizes spending behavior over a transaction window.
package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Analyzer computes aggregate behavioral statistics. Unlike the other
// detectors it takes a whole window, not a single event.
type Analyzer struct {
	Weights domain.PatternWeights
}

// NewAnalyzer creates a pattern analyzer with the given classifier weights.
func NewAnalyzer(weights domain.PatternWeights) *Analyzer {
	return &Analyzer{Weights: weights}
}

// Analyze computes the pattern statistics for a window of transactions.
// An empty window yields a zero (non-risky) result.
func (a *Analyzer) Analyze(window domain.History) *domain.PatternCheck {
	check := &domain.PatternCheck{}
	n := len(window)
	if n == 0 {
		return check
	}

	w := a.Weights

	var roundCount, weekendCount, endOfMonthCount, yearEndCount int
	categoryVolume := make(map[string]int64)
	merchantVolume := make(map[string]int64)
	var totalVolume int64

	for _, tx := range window {
		if w.RoundAmountModulus > 0 && tx.Amount >= w.RoundAmountModulus && tx.Amount%w.RoundAmountModulus == 0 {
			roundCount++
		}
		switch tx.Date.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			weekendCount++
		}
		if inLastDaysOfMonth(tx.Date, w.EndOfMonthDays) {
			endOfMonthCount++
		}
		if inYearEnd(tx.Date, w.YearEndDays) {
			yearEndCount++
		}

		totalVolume += tx.Amount
		if tx.CategoryCode != "" {
			categoryVolume[tx.CategoryCode] += tx.Amount
		}
		if tx.MerchantID != "" {
			merchantVolume[tx.MerchantID] += tx.Amount
		}
	}

	check.RoundAmountRatio = float64(roundCount) / float64(n)
	check.WeekendRatio = float64(weekendCount) / float64(n)
	check.EndOfMonthSpike = float64(endOfMonthCount)/float64(n) > w.EndOfMonthSpikePct
	check.YearEndSpike = float64(yearEndCount)/float64(n) > w.YearEndSpikePct
	check.AmountStdDev = amountStdDev(window)

	if totalVolume > 0 {
		for code, vol := range categoryVolume {
			share := float64(vol) / float64(totalVolume)
			if share > w.CategoryDominance {
				check.CategoryDominance = true
				check.DominantCategory = code
			}
		}
		for merchant, vol := range merchantVolume {
			share := float64(vol) / float64(totalVolume)
			if share > check.MerchantConcentration {
				check.MerchantConcentration = share
				check.TopMerchantID = merchant
			}
		}
	}

	check.TxPerDay, check.TxPerWeek = rates(window)
	check.Acceleration = acceleration(window)

	check.RiskScore = a.riskScore(check)
	check.IsHighRisk = check.RiskScore >= w.HighRiskCutoff

	return check
}

// riskScore sums the weighted contributions of the behavioral signals.
// The weights and cutoff are tunable configuration, not derived statistics.
func (a *Analyzer) riskScore(c *domain.PatternCheck) int {
	w := a.Weights
	score := 0
	if c.RoundAmountRatio > w.RoundAmountRatio {
		score += w.RoundAmountWeight
	}
	if c.YearEndSpike && c.Acceleration > w.AccelerationFactor {
		score += w.YearEndWeight
	}
	if c.EndOfMonthSpike && c.Acceleration > w.AccelerationFactor {
		score += w.EndOfMonthWeight
	}
	if c.MerchantConcentration > w.MerchantConcHigh {
		score += w.MerchantWeight
	}
	if c.CategoryDominance {
		score += w.CategoryWeight
	}
	return score
}

func inLastDaysOfMonth(date time.Time, days int) bool {
	d := date.UTC()
	lastDay := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return d.Day() > lastDay-days
}

func inYearEnd(date time.Time, days int) bool {
	d := date.UTC()
	return d.Month() == time.December && d.Day() > 31-days
}

func amountStdDev(window domain.History) float64 {
	n := float64(len(window))
	var sum float64
	for _, tx := range window {
		sum += float64(tx.Amount)
	}
	mean := sum / n

	var variance float64
	for _, tx := range window {
		diff := float64(tx.Amount) - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / n)
}

// rates computes transactions per day and per week from the window span.
// A single-transaction window counts as a one-day span.
func rates(window domain.History) (perDay, perWeek float64) {
	first, last := span(window)
	days := last.Sub(first).Hours()/24 + 1
	if days < 1 {
		days = 1
	}
	perDay = float64(len(window)) / days
	perWeek = perDay * 7
	return perDay, perWeek
}

// acceleration compares the velocity of the chronological second half of
// the window against the first half.
func acceleration(window domain.History) float64 {
	if len(window) < 2 {
		return 1.0
	}

	sorted := make(domain.History, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	mid := sorted[len(sorted)/2].Date
	first, last := sorted[0].Date, sorted[len(sorted)-1].Date

	firstSpan := mid.Sub(first).Hours()/24 + 1
	secondSpan := last.Sub(mid).Hours()/24 + 1
	if firstSpan < 1 {
		firstSpan = 1
	}
	if secondSpan < 1 {
		secondSpan = 1
	}

	var firstCount, secondCount int
	for _, tx := range sorted {
		if tx.Date.Before(mid) {
			firstCount++
		} else {
			secondCount++
		}
	}

	firstRate := float64(firstCount) / firstSpan
	secondRate := float64(secondCount) / secondSpan
	if firstRate == 0 {
		return 1.0
	}
	return secondRate / firstRate
}

func span(window domain.History) (first, last time.Time) {
	first, last = window[0].Date, window[0].Date
	for _, tx := range window[1:] {
		if tx.Date.Before(first) {
			first = tx.Date
		}
		if tx.Date.After(last) {
			last = tx.Date
		}
	}
	return first, last
}
