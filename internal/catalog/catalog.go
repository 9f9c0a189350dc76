// Package catalog resolves threshold configuration for jurisdiction and
// category pairs. Resolution order: exact pair, jurisdiction wildcard,
// conservative defaults. Unknown pairs never disable threshold checking.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// WildcardCategory matches any category within a jurisdiction.
const WildcardCategory = "*"

func pairKey(jurisdiction, categoryCode string) string {
	return strings.ToUpper(jurisdiction) + "|" + strings.ToLower(categoryCode)
}

// Static is an in-memory catalog seeded at construction. It backs the
// Community tier and serves as the fallback layer for the SQL catalog.
type Static struct {
	mu      sync.RWMutex
	entries map[string]*domain.ThresholdConfig
}

// NewStatic creates a catalog from the given entries. Disabled entries are
// kept but never returned by Lookup.
func NewStatic(entries []*domain.ThresholdConfig) *Static {
	s := &Static{entries: make(map[string]*domain.ThresholdConfig, len(entries))}
	for _, e := range entries {
		s.entries[pairKey(e.Jurisdiction, e.CategoryCode)] = e
	}
	return s
}

// NewSeeded creates a catalog preloaded with the built-in seed table.
func NewSeeded() *Static {
	return NewStatic(SeedEntries())
}

// Lookup resolves the pair, trying the jurisdiction wildcard before giving
// up and returning conservative defaults with found=false.
func (s *Static) Lookup(_ context.Context, jurisdiction, categoryCode string) (*domain.ThresholdConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[pairKey(jurisdiction, categoryCode)]; ok && e.Enabled {
		cp := *e
		return &cp, true, nil
	}
	if e, ok := s.entries[pairKey(jurisdiction, WildcardCategory)]; ok && e.Enabled {
		cp := *e
		cp.CategoryCode = categoryCode
		return &cp, true, nil
	}
	return domain.ConservativeDefaults(jurisdiction, categoryCode), false, nil
}

// Put inserts or replaces an entry. Used by hot reload.
func (s *Static) Put(cfg *domain.ThresholdConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pairKey(cfg.Jurisdiction, cfg.CategoryCode)] = cfg
}

// Replace swaps the whole entry set atomically.
func (s *Static) Replace(entries []*domain.ThresholdConfig) {
	next := make(map[string]*domain.ThresholdConfig, len(entries))
	for _, e := range entries {
		next[pairKey(e.Jurisdiction, e.CategoryCode)] = e
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
}

// SQL resolves pairs from the repository, scoped by the tenant carried in
// the request context. Misses fall through to the seed catalog, then to
// conservative defaults.
type SQL struct {
	repo     domain.Repository
	fallback *Static
	logger   *slog.Logger
}

// NewSQL creates a repository-backed catalog.
func NewSQL(repo domain.Repository, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{
		repo:     repo,
		fallback: NewSeeded(),
		logger:   logger.With("component", "catalog"),
	}
}

func (s *SQL) Lookup(ctx context.Context, jurisdiction, categoryCode string) (*domain.ThresholdConfig, bool, error) {
	tenantID := domain.TenantFromContext(ctx)

	cfg, err := s.repo.GetThresholdConfig(ctx, tenantID, jurisdiction, categoryCode)
	switch {
	case err == nil:
		if cfg.Enabled {
			return cfg, true, nil
		}
	case errors.Is(err, repository.ErrNotFound):
		// fall through to the seed table
	default:
		return nil, false, fmt.Errorf("catalog lookup %s/%s: %w", jurisdiction, categoryCode, err)
	}

	return s.fallback.Lookup(ctx, jurisdiction, categoryCode)
}

// Cached wraps another catalog with a read-through cache. Cache failures
// are logged and treated as misses so lookups keep working.
type Cached struct {
	inner  domain.Catalog
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with the given cache.
func NewCached(inner domain.Catalog, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger.With("component", "catalog_cache")}
}

func (c *Cached) Lookup(ctx context.Context, jurisdiction, categoryCode string) (*domain.ThresholdConfig, bool, error) {
	tenantID := domain.TenantFromContext(ctx)

	cfg, err := c.cache.GetThresholdConfig(ctx, tenantID, jurisdiction, categoryCode)
	if err != nil {
		c.logger.Warn("cache read failed", "error", err, "jurisdiction", jurisdiction)
	} else if cfg != nil {
		return cfg, true, nil
	}

	cfg, found, err := c.inner.Lookup(ctx, jurisdiction, categoryCode)
	if err != nil {
		return nil, false, err
	}

	// Only known pairs are cached. Defaults for unknown pairs stay
	// uncached so a later config change takes effect immediately.
	if found {
		if err := c.cache.SetThresholdConfig(ctx, tenantID, cfg, c.ttl); err != nil {
			c.logger.Warn("cache write failed", "error", err, "jurisdiction", jurisdiction)
		}
	}
	return cfg, found, nil
}
