package pattern

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newAnalyzer() *Analyzer {
	return NewAnalyzer(domain.DefaultPatternWeights())
}

func txAt(id string, amount int64, date time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:       id,
		TenantID: "tenant-001",
		Amount:   amount,
		Date:     date,
	}
}

func TestEmptyWindow(t *testing.T) {
	check := newAnalyzer().Analyze(nil)
	if check.IsHighRisk {
		t.Error("empty window must not be high risk")
	}
	if check.RiskScore != 0 {
		t.Errorf("expected risk score 0, got %d", check.RiskScore)
	}
}

func TestRoundAmountRatio(t *testing.T) {
	a := newAnalyzer()
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	window := domain.History{
		txAt("r1", 5000, base),   // round
		txAt("r2", 10000, base),  // round
		txAt("r3", 25000, base),  // round
		txAt("n1", 5003, base),   // not round
		txAt("n2", 4000, base),   // multiple of nothing relevant, below modulus
		txAt("n3", 2500, base),   // below modulus
	}

	check := a.Analyze(window)
	if math.Abs(check.RoundAmountRatio-0.5) > 1e-9 {
		t.Errorf("expected round ratio 0.5, got %f", check.RoundAmountRatio)
	}
}

func TestWeekendRatio(t *testing.T) {
	a := newAnalyzer()

	window := domain.History{
		txAt("sat", 1000, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)),  // Saturday
		txAt("sun", 1000, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)),  // Sunday
		txAt("mon", 1000, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)), // Monday
		txAt("tue", 1000, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)), // Tuesday
	}

	check := a.Analyze(window)
	if math.Abs(check.WeekendRatio-0.5) > 1e-9 {
		t.Errorf("expected weekend ratio 0.5, got %f", check.WeekendRatio)
	}
}

func TestYearEndSpike(t *testing.T) {
	a := newAnalyzer()

	// 100 transactions spread evenly over the year, then 20 more injected
	// into the last 14 days of December.
	var window domain.History
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		window = append(window, txAt(fmt.Sprintf("even-%d", i), 1000, start.AddDate(0, 0, i*3)))
	}
	for i := 0; i < 20; i++ {
		window = append(window, txAt(fmt.Sprintf("dec-%d", i), 1000,
			time.Date(2025, 12, 18+(i%14), 0, 0, 0, 0, time.UTC)))
	}

	check := a.Analyze(window)
	if !check.YearEndSpike {
		t.Error("expected year-end spike with 20 extra December transactions")
	}
}

func TestEndOfMonthSpike(t *testing.T) {
	a := newAnalyzer()

	var window domain.History
	// 6 transactions mid-month, 4 in the last 5 days: 40% > 30% triggers.
	for i := 0; i < 6; i++ {
		window = append(window, txAt(fmt.Sprintf("mid-%d", i), 1000,
			time.Date(2025, 4, 10+i, 0, 0, 0, 0, time.UTC)))
	}
	for i := 0; i < 4; i++ {
		window = append(window, txAt(fmt.Sprintf("eom-%d", i), 1000,
			time.Date(2025, 4, 26+i, 0, 0, 0, 0, time.UTC)))
	}

	check := a.Analyze(window)
	if !check.EndOfMonthSpike {
		t.Error("expected end-of-month spike at 40% share")
	}
}

func TestCategoryDominance(t *testing.T) {
	a := newAnalyzer()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	dominant := txAt("d", 80000, base)
	dominant.CategoryCode = "TRAVEL"
	minor := txAt("m", 20000, base)
	minor.CategoryCode = "SUPPLIES"

	check := a.Analyze(domain.History{dominant, minor})
	if !check.CategoryDominance {
		t.Error("expected category dominance at 80% of volume")
	}
	if check.DominantCategory != "TRAVEL" {
		t.Errorf("expected TRAVEL dominant, got %s", check.DominantCategory)
	}
}

func TestMerchantConcentration(t *testing.T) {
	a := newAnalyzer()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t1 := txAt("t1", 90000, base)
	t1.MerchantID = "merchant-A"
	t2 := txAt("t2", 10000, base)
	t2.MerchantID = "merchant-B"

	check := a.Analyze(domain.History{t1, t2})
	if math.Abs(check.MerchantConcentration-0.9) > 1e-9 {
		t.Errorf("expected concentration 0.9, got %f", check.MerchantConcentration)
	}
	if check.TopMerchantID != "merchant-A" {
		t.Errorf("expected merchant-A, got %s", check.TopMerchantID)
	}
}

func TestAmountStdDev(t *testing.T) {
	a := newAnalyzer()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("UniformAmounts", func(t *testing.T) {
		window := domain.History{
			txAt("a", 10000, base), txAt("b", 10000, base), txAt("c", 10000, base),
		}
		if got := a.Analyze(window).AmountStdDev; got != 0 {
			t.Errorf("uniform amounts should have stddev 0, got %f", got)
		}
	})

	t.Run("KnownSpread", func(t *testing.T) {
		// Population stddev of {2, 4, 4, 4, 5, 5, 7, 9} is 2.
		amounts := []int64{2, 4, 4, 4, 5, 5, 7, 9}
		var window domain.History
		for i, amt := range amounts {
			window = append(window, txAt(fmt.Sprintf("k-%d", i), amt, base))
		}
		if got := a.Analyze(window).AmountStdDev; math.Abs(got-2.0) > 1e-9 {
			t.Errorf("expected stddev 2.0, got %f", got)
		}
	})
}

func TestHighRiskClassifier(t *testing.T) {
	a := newAnalyzer()

	// Mostly round amounts concentrated at one merchant in one category:
	// round (+2) + merchant concentration (+2) + dominance (+1) = 5 >= 4.
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	var window domain.History
	for i := 0; i < 10; i++ {
		tx := txAt(fmt.Sprintf("r-%d", i), 10000, base.AddDate(0, 0, i))
		tx.CategoryCode = "CONSULTING"
		tx.MerchantID = "merchant-X"
		window = append(window, tx)
	}

	check := a.Analyze(window)
	if !check.IsHighRisk {
		t.Errorf("expected high risk, got score %d (%+v)", check.RiskScore, check)
	}
}

func TestAcceleration(t *testing.T) {
	a := newAnalyzer()

	// 10 transactions over 100 days, then 10 more in the last 10 days.
	var window domain.History
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		window = append(window, txAt(fmt.Sprintf("slow-%d", i), 1000, start.AddDate(0, 0, i*10)))
	}
	for i := 0; i < 10; i++ {
		window = append(window, txAt(fmt.Sprintf("fast-%d", i), 1000, start.AddDate(0, 0, 100+i)))
	}

	check := a.Analyze(window)
	if check.Acceleration <= 1.0 {
		t.Errorf("expected acceleration > 1 for back-loaded window, got %f", check.Acceleration)
	}
}
