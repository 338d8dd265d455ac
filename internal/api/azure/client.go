// Package azure is a JSON-over-HTTP client for the Azure OpenAI embeddings
// and chat completions endpoints and the Azure AI Search vector query endpoint.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
)

const (
	// OpenAIAPIVersion is the api-version used for embeddings and chat completions.
	OpenAIAPIVersion = "2024-02-15-preview"
	// SearchAPIVersion is the api-version used for vector search.
	SearchAPIVersion = "2023-11-01"

	// maxErrorBody bounds how much of a failed response is kept for diagnostics.
	maxErrorBody = 4096
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. The client is shared by every tenant
// and must be safe for concurrent use.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header sent on every call.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// Client issues single stage calls and classifies their failures. It does
// not retry and carries no per-tenant state.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		userAgent:  "polyglot-rag/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbeddingsURL builds the embeddings endpoint for a deployment.
func EmbeddingsURL(endpoint, deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimSuffix(endpoint, "/"), url.PathEscape(deployment), OpenAIAPIVersion)
}

// ChatCompletionsURL builds the chat completions endpoint for a deployment.
func ChatCompletionsURL(endpoint, deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(endpoint, "/"), url.PathEscape(deployment), OpenAIAPIVersion)
}

// SearchURL builds the document search endpoint for an index.
func SearchURL(endpoint, index string) string {
	return fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		strings.TrimSuffix(endpoint, "/"), url.PathEscape(index), SearchAPIVersion)
}

// CreateEmbedding returns the embedding vector for the request input.
func (c *Client) CreateEmbedding(ctx context.Context, endpoint, apiKey string, req *EmbeddingRequest) ([]float64, error) {
	var resp EmbeddingResponse
	if err := c.post(ctx, domain.StageEmbed, endpoint, apiKey, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, domain.ErrInvalidResponse(domain.StageEmbed, "response has no embedding at data[0].embedding", nil)
	}
	return resp.Data[0].Embedding, nil
}

// SearchDocuments returns the content of each ranked result, in order.
// Results without usable string content yield "".
func (c *Client) SearchDocuments(ctx context.Context, endpoint, apiKey string, req *SearchRequest) ([]string, error) {
	var resp SearchResponse
	if err := c.post(ctx, domain.StageSearch, endpoint, apiKey, req, &resp); err != nil {
		return nil, err
	}
	return resp.Texts(), nil
}

// CreateChatCompletion returns the content of the first choice.
func (c *Client) CreateChatCompletion(ctx context.Context, endpoint, apiKey string, req *ChatCompletionRequest) (string, error) {
	var resp ChatCompletionResponse
	if err := c.post(ctx, domain.StageComplete, endpoint, apiKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrInvalidResponse(domain.StageComplete, "response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Probe issues a GET against endpoint and returns the response status code.
func (c *Client) Probe(ctx context.Context, endpoint string) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, domain.ErrInvalidRequest(fmt.Sprintf("failed to create probe request: %v", err))
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, domain.ClassifyTransport(domain.StageProbe, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return resp.StatusCode, nil
}

func (c *Client) post(ctx context.Context, stage domain.Stage, endpoint, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &domain.Error{Kind: domain.ErrorKindInvalidRequest, Stage: stage, Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.Error{Kind: domain.ErrorKindInvalidRequest, Stage: stage, Message: "failed to create request", Err: err}
	}
	c.setHeaders(httpReq, apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ClassifyTransport(stage, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ClassifyTransport(stage, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return domain.ErrUpstream(stage, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.ErrInvalidResponse(stage, "failed to unmarshal response", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", apiKey)
	req.Header.Set("User-Agent", c.userAgent)
}
