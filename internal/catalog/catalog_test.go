package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLookupKnownPair(t *testing.T) {
	cat := NewSeeded()

	cfg, found, err := cat.Lookup(context.Background(), "US", "meals")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found {
		t.Fatal("US/meals should be a known pair")
	}
	if cfg.DailyLimit != 50_000 {
		t.Errorf("daily limit = %d, want 50000", cfg.DailyLimit)
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	cat := NewSeeded()

	cfg, found, err := cat.Lookup(context.Background(), "us", "MEALS")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found {
		t.Fatal("case should not affect resolution")
	}
	if cfg.Jurisdiction != "US" {
		t.Errorf("jurisdiction = %q, want US", cfg.Jurisdiction)
	}
}

func TestLookupWildcardFallback(t *testing.T) {
	cat := NewSeeded()

	cfg, found, err := cat.Lookup(context.Background(), "US", "vehicle")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found {
		t.Fatal("wildcard row should resolve unlisted US categories")
	}
	if cfg.CategoryCode != "vehicle" {
		t.Errorf("category = %q, want vehicle", cfg.CategoryCode)
	}
	if cfg.AnnualLimit != 5_000_000 {
		t.Errorf("annual limit = %d, want wildcard 5000000", cfg.AnnualLimit)
	}
}

func TestUnknownJurisdictionGetsDefaults(t *testing.T) {
	cat := NewSeeded()

	cfg, found, err := cat.Lookup(context.Background(), "ZZ", "meals")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Error("unknown jurisdiction must report found=false")
	}
	if cfg == nil {
		t.Fatal("unknown jurisdiction must still return a config, never nil")
	}
	if !cfg.Enabled {
		t.Error("conservative defaults must be enabled")
	}
	want := domain.ConservativeDefaults("ZZ", "meals")
	if cfg.AnnualLimit != want.AnnualLimit || cfg.PerTransactionLimit != want.PerTransactionLimit {
		t.Errorf("got limits %d/%d, want conservative %d/%d",
			cfg.AnnualLimit, cfg.PerTransactionLimit, want.AnnualLimit, want.PerTransactionLimit)
	}
}

func TestDisabledEntrySkipped(t *testing.T) {
	cat := NewStatic([]*domain.ThresholdConfig{
		{Jurisdiction: "US", CategoryCode: "meals", AnnualLimit: 1, Enabled: false},
	})

	_, found, err := cat.Lookup(context.Background(), "US", "meals")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Error("disabled entries must not resolve")
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	cat := NewSeeded()

	a, _, _ := cat.Lookup(context.Background(), "US", "meals")
	a.DailyLimit = 1

	b, _, _ := cat.Lookup(context.Background(), "US", "meals")
	if b.DailyLimit == 1 {
		t.Error("callers must not be able to mutate catalog entries")
	}
}

func TestReplaceSwapsEntries(t *testing.T) {
	cat := NewSeeded()
	cat.Replace([]*domain.ThresholdConfig{
		{Jurisdiction: "US", CategoryCode: "meals", DailyLimit: 99, Enabled: true},
	})

	cfg, found, _ := cat.Lookup(context.Background(), "US", "meals")
	if !found || cfg.DailyLimit != 99 {
		t.Errorf("replaced entry not served: found=%v daily=%d", found, cfg.DailyLimit)
	}

	_, found, _ = cat.Lookup(context.Background(), "US", "travel")
	if found {
		t.Error("Replace must drop entries absent from the new set")
	}
}

type fakeCache struct {
	domain.Cache
	stored map[string]*domain.ThresholdConfig
}

func (f *fakeCache) GetThresholdConfig(_ context.Context, tenantID, jurisdiction, categoryCode string) (*domain.ThresholdConfig, error) {
	return f.stored[tenantID+"|"+jurisdiction+"|"+categoryCode], nil
}

func (f *fakeCache) SetThresholdConfig(_ context.Context, tenantID string, cfg *domain.ThresholdConfig, _ time.Duration) error {
	f.stored[tenantID+"|"+cfg.Jurisdiction+"|"+cfg.CategoryCode] = cfg
	return nil
}

func TestCachedCatalogDoesNotCacheDefaults(t *testing.T) {
	cache := &fakeCache{stored: make(map[string]*domain.ThresholdConfig)}
	cat := NewCached(NewSeeded(), cache, 0, nil)

	_, found, err := cat.Lookup(context.Background(), "ZZ", "meals")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Error("defaults must report found=false through the cache layer")
	}
	if len(cache.stored) != 0 {
		t.Error("conservative defaults must not be written to the cache")
	}

	if _, found, _ = cat.Lookup(context.Background(), "US", "meals"); !found {
		t.Fatal("known pair should resolve")
	}
	if len(cache.stored) != 1 {
		t.Errorf("known pair should be cached, have %d entries", len(cache.stored))
	}
}
