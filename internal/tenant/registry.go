package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/config"
	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/pipeline"
)

// Registry maps tenant ids to their pipelines. It is read-only once loaded.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	logger  *slog.Logger
}

// NewRegistry creates an empty tenant registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tenants: make(map[string]*Tenant),
		logger:  logger,
	}
}

// LoadTenants builds one pipeline per tenant config. A tenant that fails to
// build is logged and left out; the other tenants still load. The returned
// error joins every skipped tenant's failure.
func (r *Registry) LoadTenants(configs []config.TenantConfig, client *azure.Client, opts pipeline.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, cfg := range configs {
		if _, exists := r.tenants[cfg.ID]; exists {
			err := domain.ErrConfiguration(fmt.Sprintf("duplicate tenant id %q", cfg.ID))
			r.logger.Error("skipping tenant", slog.String("tenant", cfg.ID), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}

		o, err := pipeline.New(cfg, client, opts)
		if err != nil {
			r.logger.Error("skipping tenant", slog.String("tenant", cfg.ID), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}

		r.tenants[cfg.ID] = &Tenant{ID: cfg.ID, Name: cfg.Name, Pipeline: o}
		r.logger.Info("tenant loaded",
			slog.String("tenant", cfg.ID),
			slog.String("index", o.Config().IndexName),
			slog.String("deployment", o.Config().CompletionDeployment))
	}

	return errors.Join(errs...)
}

// GetTenant retrieves a tenant by ID
func (r *Registry) GetTenant(id string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	return t, ok
}

// Lookup returns the pipeline for id, or a not-found error.
func (r *Registry) Lookup(id string) (*pipeline.Orchestrator, error) {
	t, ok := r.GetTenant(id)
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("unknown tenant %q", id))
	}
	return t.Pipeline, nil
}

// Answer runs the pipeline of tenantID for query.
func (r *Registry) Answer(ctx context.Context, tenantID, query string) (*pipeline.Result, error) {
	o, err := r.Lookup(tenantID)
	if err != nil {
		return nil, err
	}
	return o.AnswerQuery(WithTenantID(ctx, tenantID), query)
}

// TenantIDs returns the loaded tenant ids in sorted order.
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Tenants returns the loaded tenants ordered by id.
func (r *Registry) Tenants() []*Tenant {
	ids := r.TenantIDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tenant, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.tenants[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Close closes every tenant pipeline.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, t := range r.tenants {
		if err := t.Pipeline.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
