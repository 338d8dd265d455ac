package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/telemetry"
)

// DefaultProbeTimeout bounds each startup probe.
const DefaultProbeTimeout = 5 * time.Second

// Validator checks at startup that every tenant's completion endpoint answers.
type Validator struct {
	client  *azure.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewValidator creates a validator. A non-positive timeout uses DefaultProbeTimeout.
func NewValidator(client *azure.Client, timeout time.Duration, logger *slog.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{client: client, timeout: timeout, logger: logger}
}

// Validate probes all tenants concurrently and reports reachability by id.
// An endpoint is reachable when it answers 200, 401 or 403; anything else,
// including a timeout, is unreachable.
func (v *Validator) Validate(ctx context.Context, tenants []*Tenant) map[string]bool {
	report := make(map[string]bool, len(tenants))
	var mu sync.Mutex

	var g errgroup.Group
	for _, t := range tenants {
		g.Go(func() error {
			ok := v.probe(ctx, t)
			mu.Lock()
			report[t.ID] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (v *Validator) probe(ctx context.Context, t *Tenant) bool {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	status, err := v.client.Probe(ctx, t.ProbeURL())
	reachable := err == nil && Reachable(status)

	gauge := 0.0
	if reachable {
		gauge = 1
	}
	telemetry.TenantReachable.WithLabelValues(t.ID).Set(gauge)

	attrs := []any{
		slog.String("tenant", t.ID),
		slog.String("endpoint", t.ProbeURL()),
		slog.Duration("duration", time.Since(start)),
	}
	switch {
	case err != nil:
		v.logger.Warn("tenant unreachable", append(attrs, slog.String("error", err.Error()))...)
	case !reachable:
		v.logger.Warn("tenant unreachable", append(attrs, slog.Int("status", status))...)
	default:
		v.logger.Info("tenant reachable", append(attrs, slog.Int("status", status))...)
	}
	return reachable
}

// Reachable reports whether a probe status proves the endpoint is up.
// 401 and 403 count: the probe carries no credentials.
func Reachable(status int) bool {
	switch status {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// Enforce turns a validation report into a startup decision. In strict mode
// any unreachable tenant is a configuration error; otherwise failures were
// already logged and startup continues.
func (v *Validator) Enforce(report map[string]bool, strict bool) error {
	var failed []string
	for id, ok := range report {
		if !ok {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if !strict {
		v.logger.Warn("continuing with unreachable tenants", slog.Int("count", len(failed)))
		return nil
	}
	slices.Sort(failed)
	return domain.ErrConfiguration(fmt.Sprintf("unreachable tenants: %s", strings.Join(failed, ", ")))
}
