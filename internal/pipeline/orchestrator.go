package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/config"
	"github.com/tjfontaine/polyglot-rag/internal/domain"
	"github.com/tjfontaine/polyglot-rag/internal/retry"
	"github.com/tjfontaine/polyglot-rag/internal/telemetry"
	"github.com/tjfontaine/polyglot-rag/internal/tokens"
)

const (
	// NoDocumentsContext is sent to the completion stage when search finds nothing.
	NoDocumentsContext = "No relevant documents found."

	// DocumentSeparator joins retrieved documents into one context.
	DocumentSeparator = "\n\n"

	instrumentationName = "github.com/tjfontaine/polyglot-rag/internal/pipeline"
)

// Options holds the answer_query settings shared by every tenant.
type Options struct {
	TopK               int
	ContextTokenBudget int
	MaxAnswerTokens    int
	Temperature        float64
	Trimmer            *tokens.Trimmer
	Logger             *slog.Logger
}

// DefaultOptions returns the stock pipeline settings.
func DefaultOptions() Options {
	return Options{
		TopK:               5,
		ContextTokenBudget: 3000,
		MaxAnswerTokens:    400,
		Temperature:        0.2,
	}
}

// OptionsFromConfig converts the pipeline section of the config. Temperature
// is taken as-is; config.Load supplies its default.
func OptionsFromConfig(cfg config.PipelineConfig, logger *slog.Logger) Options {
	opts := DefaultOptions()
	if cfg.TopK > 0 {
		opts.TopK = cfg.TopK
	}
	if cfg.ContextTokenBudget > 0 {
		opts.ContextTokenBudget = cfg.ContextTokenBudget
	}
	if cfg.MaxAnswerTokens > 0 {
		opts.MaxAnswerTokens = cfg.MaxAnswerTokens
	}
	opts.Temperature = cfg.Temperature
	opts.Logger = logger
	opts.Trimmer = tokens.NewTrimmer(cfg.TokenizerModel, logger)
	return opts
}

// Result is the outcome of a successful answer_query call.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Orchestrator runs the pipeline for a single tenant. It is safe for
// concurrent use; its configuration is read-only after New.
type Orchestrator struct {
	cfg    config.TenantConfig
	client *azure.Client
	policy retry.Policy
	opts   Options

	trimmer *tokens.Trimmer
	logger  *slog.Logger
	tracer  trace.Tracer

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	timeouts struct {
		embed, search, complete time.Duration
	}
	urls struct {
		embed, search, complete string
	}
}

// New validates cfg and creates the tenant's orchestrator. Zero numeric
// options take their defaults, except Temperature where zero is valid. Missing
// endpoints, keys, deployments or index name fail with a configuration error.
func New(cfg config.TenantConfig, client *azure.Client, opts Options) (*Orchestrator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.ErrConfiguration(fmt.Sprintf("tenant %q has no stage client", cfg.ID))
	}

	defaults := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.ContextTokenBudget <= 0 {
		opts.ContextTokenBudget = defaults.ContextTokenBudget
	}
	if opts.MaxAnswerTokens <= 0 {
		opts.MaxAnswerTokens = defaults.MaxAnswerTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Trimmer == nil {
		opts.Trimmer = tokens.NewTrimmer(tokens.DefaultModel, opts.Logger)
	}

	o := &Orchestrator{
		cfg:    cfg,
		client: client,
		policy: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			MinWait:     config.Seconds(cfg.RetryMinWaitSeconds),
			MaxWait:     config.Seconds(cfg.RetryMaxWaitSeconds),
		},
		opts:    opts,
		trimmer: opts.Trimmer,
		logger:  opts.Logger.With(slog.String("tenant", cfg.ID)),
		tracer:  otel.Tracer(instrumentationName),
	}
	o.timeouts.embed = config.Seconds(cfg.EmbeddingTimeout)
	o.timeouts.search = config.Seconds(cfg.SearchTimeout)
	o.timeouts.complete = config.Seconds(cfg.CompletionTimeout)
	o.urls.embed = azure.EmbeddingsURL(cfg.CompletionEndpoint, cfg.EmbeddingDeployment)
	o.urls.search = azure.SearchURL(cfg.SearchEndpoint, cfg.IndexName)
	o.urls.complete = azure.ChatCompletionsURL(cfg.CompletionEndpoint, cfg.CompletionDeployment)

	if cfg.MaxConcurrentRequests > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return o, nil
}

// ID returns the tenant id.
func (o *Orchestrator) ID() string {
	return o.cfg.ID
}

// Config returns the validated tenant configuration.
func (o *Orchestrator) Config() config.TenantConfig {
	return o.cfg
}

// ProbeURL returns the endpoint used by the startup connectivity check.
func (o *Orchestrator) ProbeURL() string {
	return o.cfg.CompletionEndpoint
}

// AnswerQuery runs embed, search, trim and complete for query.
// Result.Sources holds the untrimmed documents in search order.
func (o *Orchestrator) AnswerQuery(ctx context.Context, query string) (result *Result, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrInvalidRequest("query must not be empty")
	}

	ctx, span := o.tracer.Start(ctx, "rag.answer_query",
		trace.WithAttributes(attribute.String("rag.tenant", o.cfg.ID)))
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.QueriesTotal.WithLabelValues(o.cfg.ID, telemetry.Outcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			o.logger.Error("answer_query failed",
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()))
			return
		}
		o.logger.Info("answer_query completed",
			slog.Duration("duration", time.Since(start)),
			slog.Int("sources", len(result.Sources)))
	}()

	release, err := o.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	docs, err := o.SearchDocuments(ctx, query)
	if err != nil {
		return nil, o.failed(domain.StageSearch, err)
	}
	if docs == nil {
		docs = []string{}
	}

	contextText := NoDocumentsContext
	if len(docs) > 0 {
		contextText = o.trimmer.Trim(strings.Join(docs, DocumentSeparator), o.opts.ContextTokenBudget)
	}

	answer, err := o.Complete(ctx, query, contextText, o.opts.MaxAnswerTokens)
	if err != nil {
		return nil, o.failed(domain.StageComplete, err)
	}

	return &Result{Answer: answer, Sources: docs}, nil
}

// Close releases tenant resources. The shared HTTP client is owned by the caller.
func (o *Orchestrator) Close() error {
	return nil
}

// admit waits for the tenant's rate limiter and concurrency slot.
func (o *Orchestrator) admit(ctx context.Context) (func(), error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, &domain.Error{Kind: domain.ErrorKindTimeout, Message: "waiting for rate limit", Err: err}
		}
	}
	if o.sem == nil {
		return func() {}, nil
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, &domain.Error{Kind: domain.ErrorKindTimeout, Message: "waiting for a concurrency slot", Err: err}
	}
	return func() { o.sem.Release(1) }, nil
}

// failed wraps a stage failure as the call's single failure outcome. The
// stage recorded on the failure wins over the caller's guess.
func (o *Orchestrator) failed(stage domain.Stage, err error) error {
	var stageErr *domain.Error
	if errors.As(err, &stageErr) && stageErr.Stage != "" {
		stage = stageErr.Stage
	}
	return &domain.PipelineError{Tenant: o.cfg.ID, Stage: stage, Err: err}
}
