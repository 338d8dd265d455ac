package tenant

import (
	"context"

	"github.com/tjfontaine/polyglot-rag/internal/pipeline"
)

// Tenant is a configured client organization and its pipeline.
type Tenant struct {
	ID       string
	Name     string
	Pipeline *pipeline.Orchestrator
}

// ProbeURL returns the endpoint checked by the startup validator.
func (t *Tenant) ProbeURL() string {
	return t.Pipeline.ProbeURL()
}

// contextKey is the type for tenant context keys
type contextKey string

const TenantContextKey contextKey = "tenant"

// WithTenantID stores the tenant id on ctx for request-scoped logging.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TenantContextKey, id)
}

// IDFromContext returns the tenant id stored by WithTenantID.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(TenantContextKey).(string)
	return id
}
