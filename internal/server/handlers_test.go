package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/pipeline"
)

type fakePipelines struct {
	ids     []string
	results map[string]*pipeline.Result
	err     error
	queries []string
}

func (f *fakePipelines) Answer(ctx context.Context, tenantID, query string) (*pipeline.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.results[tenantID]
	if !ok {
		return nil, domain.ErrNotFound("unknown tenant " + tenantID)
	}
	return res, nil
}

func (f *fakePipelines) TenantIDs() []string {
	return f.ids
}

func newTestServer(p Pipelines) *Server {
	return New(0, time.Second, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	rec := serve(t, newTestServer(&fakePipelines{}), "GET", "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[HealthResponse](t, rec)
	if got.Status != "ok" || got.Message != "Backend is running" {
		t.Errorf("health = %+v", got)
	}
}

func TestHandleClients(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{"some", []string{"acme", "globex"}, `{"clients":["acme","globex"]}`},
		{"none", nil, `{"clients":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, newTestServer(&fakePipelines{ids: tt.ids}), "GET", "/clients", "")
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("body = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandleChat(t *testing.T) {
	p := &fakePipelines{results: map[string]*pipeline.Result{
		"acme": {Answer: "42", Sources: []string{"doc1", "doc2"}},
	}}
	rec := serve(t, newTestServer(p), "POST", "/chat/acme", `{"query":"meaning of life?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	got := decode[ChatResponse](t, rec)
	if got.Answer != "42" || len(got.Sources) != 2 || got.ElapsedMS < 0 {
		t.Errorf("chat = %+v", got)
	}
	if len(p.queries) != 1 || p.queries[0] != "meaning of life?" {
		t.Errorf("queries = %q", p.queries)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestHandleChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		err      error
		status   int
		kind     string
		detail   string
		answered bool
	}{
		{
			name:   "malformed body",
			path:   "/chat/acme",
			body:   `{"query":`,
			status: http.StatusBadRequest,
			kind:   "invalid_request",
		},
		{
			name:   "empty query",
			path:   "/chat/acme",
			body:   `{"query":"  "}`,
			status: http.StatusBadRequest,
			kind:   "invalid_request",
		},
		{
			name:     "unknown tenant",
			path:     "/chat/nobody",
			body:     `{"query":"hi"}`,
			status:   http.StatusNotFound,
			kind:     "not_found",
			detail:   "Client not found",
			answered: true,
		},
		{
			name: "pipeline failure",
			path: "/chat/acme",
			body: `{"query":"hi"}`,
			err: &domain.PipelineError{
				Tenant: "acme",
				Stage:  domain.StageEmbed,
				Err:    domain.ErrUpstream(domain.StageEmbed, http.StatusTooManyRequests, "throttled"),
			},
			status:   http.StatusBadGateway,
			kind:     "upstream_error",
			answered: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipelines{
				results: map[string]*pipeline.Result{"acme": {Answer: "x"}},
				err:     tt.err,
			}
			rec := serve(t, newTestServer(p), "POST", tt.path, tt.body)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			got := decode[ErrorResponse](t, rec)
			if got.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.kind)
			}
			if tt.detail != "" && got.Detail != tt.detail {
				t.Errorf("detail = %q, want %q", got.Detail, tt.detail)
			}
			if got.Detail == "" {
				t.Error("Expected error detail")
			}
			if answered := len(p.queries) > 0; answered != tt.answered {
				t.Errorf("pipeline called = %v, want %v", answered, tt.answered)
			}
		})
	}
}

func TestHandleChat_NilSourcesEncodeAsEmpty(t *testing.T) {
	p := &fakePipelines{results: map[string]*pipeline.Result{"acme": {Answer: "none"}}}
	rec := serve(t, newTestServer(p), "POST", "/chat/acme", `{"query":"hi"}`)

	if !strings.Contains(rec.Body.String(), `"sources":[]`) {
		t.Errorf("body = %s, want empty sources array", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, newTestServer(&fakePipelines{}), "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected default Go collectors in metrics output")
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := newTestServer(&fakePipelines{})
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Start() did not return after Shutdown")
	}
}
