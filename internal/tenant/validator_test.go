package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/config"
	"github.com/tjfontaine/polyglot-rag/internal/domain"
)

func statusServer(t *testing.T, status int, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("probe method = %s, want GET", r.Method)
		}
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadRegistry(t *testing.T, configs ...config.TenantConfig) *Registry {
	t.Helper()
	registry := NewRegistry(discardLogger())
	if err := registry.LoadTenants(configs, azure.NewClient(), testOptions()); err != nil {
		t.Fatalf("LoadTenants() error = %v", err)
	}
	return registry
}

func TestValidator_Validate(t *testing.T) {
	ok := statusServer(t, http.StatusOK, 0)
	unauthorized := statusServer(t, http.StatusUnauthorized, 0)
	forbidden := statusServer(t, http.StatusForbidden, 0)
	broken := statusServer(t, http.StatusInternalServerError, 0)
	slow := statusServer(t, http.StatusOK, 2*time.Second)

	registry := loadRegistry(t,
		tenantConfig("ok", ok.URL),
		tenantConfig("unauthorized", unauthorized.URL),
		tenantConfig("forbidden", forbidden.URL),
		tenantConfig("broken", broken.URL),
		tenantConfig("slow", slow.URL),
	)

	v := NewValidator(azure.NewClient(), 100*time.Millisecond, discardLogger())
	start := time.Now()
	report := v.Validate(context.Background(), registry.Tenants())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Validate took %v, probes should be bounded by the timeout", elapsed)
	}

	want := map[string]bool{
		"ok":           true,
		"unauthorized": true,
		"forbidden":    true,
		"broken":       false,
		"slow":         false,
	}
	if len(report) != len(want) {
		t.Fatalf("report = %v, want %v", report, want)
	}
	for id, reachable := range want {
		if report[id] != reachable {
			t.Errorf("report[%s] = %v, want %v", id, report[id], reachable)
		}
	}
}

func TestValidator_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	registry := loadRegistry(t, tenantConfig("gone", url))
	v := NewValidator(azure.NewClient(), time.Second, discardLogger())

	report := v.Validate(context.Background(), registry.Tenants())
	if report["gone"] {
		t.Error("closed server reported reachable")
	}
}

func TestValidator_Enforce(t *testing.T) {
	v := NewValidator(azure.NewClient(), 0, discardLogger())
	report := map[string]bool{"a": true, "c": false, "b": false}

	if err := v.Enforce(report, false); err != nil {
		t.Errorf("lenient Enforce() error = %v", err)
	}

	err := v.Enforce(report, true)
	if domain.KindOf(err) != domain.ErrorKindConfiguration {
		t.Fatalf("strict Enforce() kind = %s, want configuration_error", domain.KindOf(err))
	}
	var stageErr *domain.Error
	if !errors.As(err, &stageErr) || stageErr.Message != "unreachable tenants: b, c" {
		t.Errorf("strict Enforce() = %v", err)
	}

	if err := v.Enforce(map[string]bool{"a": true}, true); err != nil {
		t.Errorf("strict Enforce() with all reachable = %v", err)
	}
}

func TestReachable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := Reachable(tt.status); got != tt.want {
			t.Errorf("Reachable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
