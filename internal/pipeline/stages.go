package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/retry"
	"github.com/tjfontaine/polyglot-rag/internal/telemetry"
)

const (
	// SystemPrompt is the fixed instruction sent with every completion.
	SystemPrompt = "You are a helpful assistant that answers based on context."

	// VectorField is the index field holding document embeddings.
	VectorField = "contentVector"
	// ContentField is the index field holding document text.
	ContentField = "content"
)

// Embed returns the embedding of query.
func (o *Orchestrator) Embed(ctx context.Context, query string) ([]float64, error) {
	req := &azure.EmbeddingRequest{Input: query}
	return runStage(ctx, o, domain.StageEmbed, o.timeouts.embed, func(ctx context.Context) ([]float64, error) {
		return o.client.CreateEmbedding(ctx, o.urls.embed, o.cfg.CompletionAPIKey, req)
	})
}

// Search returns the content of the k nearest documents to vector, in
// relevance order.
func (o *Orchestrator) Search(ctx context.Context, vector []float64, k int) ([]string, error) {
	req := &azure.SearchRequest{
		Vector: azure.VectorQuery{Value: vector, Fields: VectorField, K: k},
		Select: ContentField,
	}
	return runStage(ctx, o, domain.StageSearch, o.timeouts.search, func(ctx context.Context) ([]string, error) {
		return o.client.SearchDocuments(ctx, o.urls.search, o.cfg.SearchAPIKey, req)
	})
}

// SearchDocuments embeds query and searches with the resulting vector.
// An embedding failure returns before any search call is made.
func (o *Orchestrator) SearchDocuments(ctx context.Context, query string) ([]string, error) {
	vector, err := o.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return o.Search(ctx, vector, o.opts.TopK)
}

// Complete generates an answer to query grounded on the already trimmed context.
func (o *Orchestrator) Complete(ctx context.Context, query, contextText string, maxTokens int) (string, error) {
	req := &azure.ChatCompletionRequest{
		Messages: []azure.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: "Context:\n" + contextText + "\n\nQuestion: " + query},
		},
		Temperature: o.opts.Temperature,
		MaxTokens:   maxTokens,
	}
	return runStage(ctx, o, domain.StageComplete, o.timeouts.complete, func(ctx context.Context) (string, error) {
		return o.client.CreateChatCompletion(ctx, o.urls.complete, o.cfg.CompletionAPIKey, req)
	})
}

// runStage executes call under the tenant retry policy. Each attempt gets a
// fresh timeout so one slow attempt never eats into the next one or into
// another stage.
func runStage[T any](ctx context.Context, o *Orchestrator, stage domain.Stage, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	ctx, span := o.tracer.Start(ctx, "rag."+string(stage))
	defer span.End()

	start := time.Now()
	attempts := 0

	policy := o.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		o.logger.Warn("stage attempt failed, retrying",
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	result, err := retry.Do(ctx, policy, func(ctx context.Context) (T, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := call(attemptCtx)
		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// The stage deadline fired; report it as such whatever the
			// transport surfaced.
			var stageErr *domain.Error
			if !errors.As(err, &stageErr) || stageErr.Kind == domain.ErrorKindTransport {
				err = domain.ErrTimeout(stage, err)
			}
		}

		label := "success"
		if err != nil {
			label = string(domain.KindOf(err))
		}
		telemetry.StageAttempts.WithLabelValues(o.cfg.ID, string(stage), label).Inc()
		return v, err
	})

	if err != nil && ctx.Err() != nil {
		// The caller's context ended between or during attempts.
		var stageErr *domain.Error
		if !errors.As(err, &stageErr) {
			err = domain.ErrTimeout(stage, err)
		}
	}

	telemetry.StageDuration.WithLabelValues(o.cfg.ID, string(stage), telemetry.Outcome(err)).
		Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("rag.tenant", o.cfg.ID),
		attribute.Int("rag.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
	}

	return result, err
}
