package domain

import (
	"context"
	"time"
)

// ThresholdConfig holds jurisdiction- and category-scoped numeric limits.
// All limits are minor units; a zero limit means "not configured" and is
// skipped during evaluation.
type ThresholdConfig struct {
	Jurisdiction string `json:"jurisdiction"`
	CategoryCode string `json:"categoryCode"`

	DailyLimit          int64 `json:"dailyLimit"`
	MonthlyLimit        int64 `json:"monthlyLimit"`
	AnnualLimit         int64 `json:"annualLimit"`
	PerTransactionLimit int64 `json:"perTransactionLimit"`

	// WarningRatio flags usage approaching a limit, e.g. 0.8.
	WarningRatio float64 `json:"warningRatio"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Catalog resolves threshold configuration for a jurisdiction+category pair.
// The engine consumes rule configuration; it never authors it.
type Catalog interface {
	// Lookup returns the applicable config and whether the pair was known.
	// Unknown pairs must return conservative defaults with found=false.
	// An unknown jurisdiction never silently skips threshold checking.
	Lookup(ctx context.Context, jurisdiction, categoryCode string) (*ThresholdConfig, bool, error)
}

// ConservativeDefaults is the fail-safe config applied when a
// jurisdiction/category pair is unknown. Failing open is the wrong failure
// mode for fraud prevention, so the defaults are deliberately tight.
func ConservativeDefaults(jurisdiction, categoryCode string) *ThresholdConfig {
	return &ThresholdConfig{
		Jurisdiction:        jurisdiction,
		CategoryCode:        categoryCode,
		DailyLimit:          100_000,    // 1,000.00 in major units
		MonthlyLimit:        1_000_000,  // 10,000.00
		AnnualLimit:         5_000_000,  // 50,000.00
		PerTransactionLimit: 100_000,    // 1,000.00
		WarningRatio:        0.8,
		Enabled:             true,
	}
}
