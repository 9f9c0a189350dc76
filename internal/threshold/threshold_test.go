package threshold

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func cfg() *domain.ThresholdConfig {
	return &domain.ThresholdConfig{
		Jurisdiction: "DE",
		CategoryCode: "HOME_OFFICE",
		DailyLimit:   0,
		MonthlyLimit: 0,
		AnnualLimit:  126000,
		WarningRatio: 0.8,
		Enabled:      true,
	}
}

func txOn(id string, amount int64, date string) *domain.Transaction {
	d, _ := time.Parse("2006-01-02", date)
	return &domain.Transaction{
		ID:           id,
		TenantID:     "tenant-001",
		Amount:       amount,
		Date:         d,
		CategoryCode: "HOME_OFFICE",
	}
}

func TestAnnualLimitExceeded(t *testing.T) {
	m := NewMonitor()

	// Prior annual usage 125000, new transaction 2000, limit 126000.
	history := domain.History{
		txOn("p1", 60000, "2025-02-10"),
		txOn("p2", 65000, "2025-07-22"),
	}
	status := m.Evaluate(txOn("new", 2000, "2025-11-03"), cfg(), history)

	if !status.HasExceeded {
		t.Fatal("expected annual limit exceeded")
	}
	if status.LimitType != domain.LimitAnnual {
		t.Errorf("expected limit type annual, got %s", status.LimitType)
	}
	if status.AnnualUsed != 127000 {
		t.Errorf("expected annual usage 127000, got %d", status.AnnualUsed)
	}
}

func TestExactLimitNotExceeded(t *testing.T) {
	m := NewMonitor()

	t.Run("ExactlyAtLimit", func(t *testing.T) {
		history := domain.History{txOn("p1", 125000, "2025-02-10")}
		status := m.Evaluate(txOn("new", 1000, "2025-11-03"), cfg(), history)

		if status.HasExceeded {
			t.Error("spend landing exactly on the limit must not be exceeded")
		}
		if !status.HasWarning {
			t.Error("expected warning at 100% usage")
		}
	})

	t.Run("OneMinorUnitOver", func(t *testing.T) {
		history := domain.History{txOn("p1", 125000, "2025-02-10")}
		status := m.Evaluate(txOn("new", 1001, "2025-11-03"), cfg(), history)

		if !status.HasExceeded {
			t.Error("one minor unit over the limit must be exceeded")
		}
		if status.LimitType != domain.LimitAnnual {
			t.Errorf("expected annual, got %s", status.LimitType)
		}
	})
}

func TestPerTransactionCapShortCircuits(t *testing.T) {
	m := NewMonitor()

	c := cfg()
	c.PerTransactionLimit = 50000
	c.AnnualLimit = 1000 // would also be exceeded, but per-tx is checked first

	status := m.Evaluate(txOn("new", 60000, "2025-05-05"), c, nil)

	if !status.HasExceeded {
		t.Fatal("expected exceeded")
	}
	if status.LimitType != domain.LimitPerTransaction {
		t.Errorf("expected per_transaction, got %s", status.LimitType)
	}
}

func TestPeriodOrderDailyFirst(t *testing.T) {
	m := NewMonitor()

	c := cfg()
	c.DailyLimit = 1000
	c.MonthlyLimit = 1000
	c.AnnualLimit = 1000

	status := m.Evaluate(txOn("new", 2000, "2025-05-05"), c, nil)

	if status.LimitType != domain.LimitDaily {
		t.Errorf("daily should be reported first, got %s", status.LimitType)
	}
}

func TestPeriodScoping(t *testing.T) {
	m := NewMonitor()

	c := cfg()
	c.DailyLimit = 10000
	c.MonthlyLimit = 50000
	c.AnnualLimit = 200000

	history := domain.History{
		txOn("same-day", 3000, "2025-06-15"),
		txOn("same-month", 20000, "2025-06-02"),
		txOn("same-year", 80000, "2025-01-20"),
		txOn("prior-year", 500000, "2024-06-15"), // outside every window
	}

	status := m.Evaluate(txOn("new", 2000, "2025-06-15"), c, history)

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"daily", status.DailyUsed, 5000},
		{"monthly", status.MonthlyUsed, 25000},
		{"annual", status.AnnualUsed, 105000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s usage = %d, want %d", tt.name, tt.got, tt.want)
			}
		})
	}

	if status.HasExceeded {
		t.Error("nothing should be exceeded")
	}
}

func TestOtherCategoryIgnored(t *testing.T) {
	m := NewMonitor()

	other := txOn("other", 999999, "2025-06-15")
	other.CategoryCode = "TRAVEL"

	status := m.Evaluate(txOn("new", 1000, "2025-06-15"), cfg(), domain.History{other})
	if status.AnnualUsed != 1000 {
		t.Errorf("other-category spend must not count, got %d", status.AnnualUsed)
	}
}

func TestWarningRatio(t *testing.T) {
	m := NewMonitor()

	for _, tt := range []struct {
		amount      int64
		wantWarning bool
	}{
		{100799, false}, // 79.9%
		{100800, true},  // exactly 80%
		{126000, true},  // 100%
	} {
		t.Run(fmt.Sprintf("amount_%d", tt.amount), func(t *testing.T) {
			status := m.Evaluate(txOn("new", tt.amount, "2025-06-15"), cfg(), nil)
			if status.HasWarning != tt.wantWarning {
				t.Errorf("amount %d: hasWarning = %v, want %v", tt.amount, status.HasWarning, tt.wantWarning)
			}
		})
	}
}
