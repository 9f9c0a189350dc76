package catalog

import "github.com/opensource-finance/kestrel/internal/domain"

// SeedEntries returns the built-in threshold table. Amounts are minor units
// of the jurisdiction's currency. A zero limit means the period is not
// capped for that pair; the wildcard rows backstop categories the table
// does not name.
func SeedEntries() []*domain.ThresholdConfig {
	entry := func(jur, cat string, daily, monthly, annual, perTx int64) *domain.ThresholdConfig {
		return &domain.ThresholdConfig{
			Jurisdiction:        jur,
			CategoryCode:        cat,
			DailyLimit:          daily,
			MonthlyLimit:        monthly,
			AnnualLimit:         annual,
			PerTransactionLimit: perTx,
			WarningRatio:        0.8,
			Enabled:             true,
		}
	}

	return []*domain.ThresholdConfig{
		// United States
		entry("US", "meals", 50_000, 500_000, 3_000_000, 25_000),
		entry("US", "travel", 200_000, 1_500_000, 10_000_000, 150_000),
		entry("US", "home_office", 0, 150_000, 1_500_000, 100_000),
		entry("US", "equipment", 0, 0, 10_500_000, 2_500_000),
		entry("US", "charitable", 0, 0, 30_000_000, 5_000_000),
		entry("US", "education", 0, 0, 525_000, 250_000),
		entry("US", WildcardCategory, 100_000, 1_000_000, 5_000_000, 100_000),

		// Germany
		entry("DE", "meals", 40_000, 400_000, 2_400_000, 20_000),
		entry("DE", "travel", 150_000, 1_200_000, 8_000_000, 100_000),
		entry("DE", "home_office", 600, 12_600, 126_000, 600),
		entry("DE", "equipment", 0, 0, 8_000_000, 100_000),
		entry("DE", "charitable", 0, 0, 20_000_000, 2_000_000),
		entry("DE", WildcardCategory, 100_000, 1_000_000, 5_000_000, 100_000),

		// United Kingdom
		entry("UK", "meals", 40_000, 400_000, 2_400_000, 20_000),
		entry("UK", "travel", 150_000, 1_200_000, 8_000_000, 120_000),
		entry("UK", "home_office", 0, 31_200, 312_000, 31_200),
		entry("UK", "equipment", 0, 0, 100_000_000, 10_000_000),
		entry("UK", WildcardCategory, 100_000, 1_000_000, 5_000_000, 100_000),

		// Australia
		entry("AU", "meals", 60_000, 600_000, 3_600_000, 30_000),
		entry("AU", "travel", 250_000, 2_000_000, 12_000_000, 180_000),
		entry("AU", "equipment", 0, 0, 2_000_000, 30_000),
		entry("AU", WildcardCategory, 100_000, 1_000_000, 5_000_000, 100_000),

		// Canada
		entry("CA", "meals", 50_000, 500_000, 3_000_000, 25_000),
		entry("CA", "travel", 200_000, 1_600_000, 10_000_000, 150_000),
		entry("CA", WildcardCategory, 100_000, 1_000_000, 5_000_000, 100_000),
	}
}
