package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/pipeline"
)

// maxChatBody caps the /chat request body.
const maxChatBody = 1 << 20

// Pipelines answers queries for the configured tenants.
type Pipelines interface {
	Answer(ctx context.Context, tenantID, query string) (*pipeline.Result, error)
	TenantIDs() []string
}

type handlers struct {
	pipelines Pipelines
	logger    *slog.Logger
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ClientsResponse is the body of GET /clients.
type ClientsResponse struct {
	Clients []string `json:"clients"`
}

// ChatRequest is the body of POST /chat/{clientID}.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse is the body of a successful POST /chat/{clientID}.
type ChatResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Message: "Backend is running"})
}

func (h *handlers) handleClients(w http.ResponseWriter, r *http.Request) {
	ids := h.pipelines.TenantIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ClientsResponse{Clients: ids})
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	AddLogField(r.Context(), "tenant", clientID)

	var req ChatRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, r, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, domain.ErrInvalidRequest("query must not be empty"))
		return
	}

	start := time.Now()
	res, err := h.pipelines.Answer(r.Context(), clientID, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Answer:    res.Answer,
		Sources:   sources,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto its HTTP status and records it on the request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	resp := ErrorResponse{Detail: err.Error(), Kind: string(domain.KindOf(err))}
	var domErr *domain.Error
	if errors.As(err, &domErr) && domErr.Kind == domain.ErrorKindNotFound {
		resp.Detail = "Client not found"
	}
	writeJSON(w, domain.HTTPStatusCode(err), resp)
}
