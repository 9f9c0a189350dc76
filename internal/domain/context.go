package domain

import "context"

type contextKey string

const tenantContextKey contextKey = "tenantID"

// DefaultTenant is used when a request carries no tenant identity, e.g.
// single-tenant Community deployments.
const DefaultTenant = "default"

// WithTenant returns a context carrying the tenant identity.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// TenantFromContext extracts the tenant identity, falling back to
// DefaultTenant when none is set.
func TenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantContextKey).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}
