// Package velocity measures transaction rate changes over sliding windows.
package velocity

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	currentWindowDays    = 7
	historicalWindowDays = 30

	burstLimit  = 5
	burstWindow = time.Hour

	momentumThreshold = 0.2
	minBurstHistory   = 30
)

// Checker compares current against historical transaction rates. It works
// purely from the supplied history relative to an explicit "now" so results
// stay deterministic and safe to compute concurrently.
type Checker struct {
	// SpikeThreshold is the acceleration ratio above which a spike is
	// flagged. Conservative default 1.5.
	SpikeThreshold float64
}

// NewChecker creates a velocity checker.
func NewChecker(spikeThreshold float64) *Checker {
	if spikeThreshold <= 0 {
		spikeThreshold = 1.5
	}
	return &Checker{SpikeThreshold: spikeThreshold}
}

// Check computes the velocity signals. Current rate is the trailing 7 days;
// historical rate is the 30-day window immediately preceding them.
// Acceleration falls back to 1 when the historical rate is zero.
func (c *Checker) Check(now time.Time, history domain.History) *domain.VelocityCheck {
	result := &domain.VelocityCheck{SpikeThreshold: c.SpikeThreshold}

	currentStart := now.Add(-currentWindowDays * 24 * time.Hour)
	historicalStart := currentStart.Add(-historicalWindowDays * 24 * time.Hour)

	var currentCount, historicalCount int
	for _, tx := range history {
		d := tx.Date
		if d.After(now) {
			continue
		}
		if !d.Before(currentStart) {
			currentCount++
		} else if !d.Before(historicalStart) {
			historicalCount++
		}
	}

	result.CurrentRate = float64(currentCount) / currentWindowDays
	result.HistoricalRate = float64(historicalCount) / historicalWindowDays

	if result.HistoricalRate == 0 {
		result.Acceleration = 1.0
	} else {
		result.Acceleration = result.CurrentRate / result.HistoricalRate
	}
	result.IsSpike = result.Acceleration > c.SpikeThreshold

	// Burst and momentum need enough history to mean anything; below the
	// floor they report a neutral result.
	if len(history) >= minBurstHistory {
		result.BurstCount = countSince(history, now.Add(-burstWindow), now)
		result.BurstDetected = result.BurstCount > burstLimit

		result.Momentum = c.momentum(now, history)
		result.IsAccelerating = result.Momentum > momentumThreshold
	}

	return result
}

// momentum is the second derivative of the rate across three successive
// 7-day periods: (r0 - r1) - (r1 - r2), newest period first.
func (c *Checker) momentum(now time.Time, history domain.History) float64 {
	period := currentWindowDays * 24 * time.Hour

	r0 := rateBetween(history, now.Add(-period), now)
	r1 := rateBetween(history, now.Add(-2*period), now.Add(-period))
	r2 := rateBetween(history, now.Add(-3*period), now.Add(-2*period))

	return (r0 - r1) - (r1 - r2)
}

func rateBetween(history domain.History, start, end time.Time) float64 {
	return float64(countSince(history, start, end)) / currentWindowDays
}

func countSince(history domain.History, start, end time.Time) int {
	count := 0
	for _, tx := range history {
		if tx.Date.After(start) && !tx.Date.After(end) {
			count++
		}
	}
	return count
}
