package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Startup    StartupConfig    `koanf:"startup"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Completion CompletionConfig `koanf:"completion"`
	Tenants    []TenantConfig   `koanf:"tenants"`
}

type ServerConfig struct {
	Port           int     `koanf:"port"`
	RequestTimeout float64 `koanf:"request_timeout"` // seconds
}

// StartupConfig controls the connectivity check run before serving.
type StartupConfig struct {
	Validate     bool    `koanf:"validate"`
	Environment  string  `koanf:"environment"` // "prod" makes validation failures fatal
	ProbeTimeout float64 `koanf:"probe_timeout"`
}

// Strict reports whether unreachable tenants must abort startup.
func (s StartupConfig) Strict() bool {
	return strings.EqualFold(s.Environment, "prod")
}

// PipelineConfig holds the answer_query constants shared by every tenant.
type PipelineConfig struct {
	TopK               int     `koanf:"top_k"`
	ContextTokenBudget int     `koanf:"context_token_budget"`
	MaxAnswerTokens    int     `koanf:"max_answer_tokens"`
	Temperature        float64 `koanf:"temperature"`
	TokenizerModel     string  `koanf:"tokenizer_model"`
}

// CompletionConfig supplies completion settings to tenants that omit them.
type CompletionConfig struct {
	Endpoint   string `koanf:"endpoint"`
	APIKey     string `koanf:"api_key"`
	Deployment string `koanf:"deployment"`
}

// TenantConfig is one tenant's endpoints, secrets and call policy.
// Secrets are resolved by Load; the struct is read-only afterwards.
type TenantConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`

	SearchEndpoint string `koanf:"search_endpoint"`
	SearchAPIKey   string `koanf:"search_api_key"`
	// SearchAPIKeyEnv names an env var holding the search key.
	SearchAPIKeyEnv string `koanf:"search_api_key_env"`
	IndexName       string `koanf:"index_name"`

	CompletionEndpoint   string `koanf:"completion_endpoint"`
	CompletionAPIKey     string `koanf:"completion_api_key"`
	CompletionAPIKeyEnv  string `koanf:"completion_api_key_env"`
	CompletionDeployment string `koanf:"completion_deployment"`
	EmbeddingDeployment  string `koanf:"embedding_deployment"`

	// Timeouts and waits are in seconds.
	EmbeddingTimeout    float64 `koanf:"embedding_timeout"`
	SearchTimeout       float64 `koanf:"search_timeout"`
	CompletionTimeout   float64 `koanf:"completion_timeout"`
	RetryAttempts       int     `koanf:"retry_attempts"`
	RetryMinWaitSeconds float64 `koanf:"retry_min_wait"`
	RetryMaxWaitSeconds float64 `koanf:"retry_max_wait"`

	// MaxConcurrentRequests bounds in-flight answer_query calls. Zero means unbounded.
	MaxConcurrentRequests int `koanf:"max_concurrent_requests"`
	// RequestsPerSecond limits answer_query admissions. Zero means unlimited.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// Tenant call-policy defaults.
const (
	DefaultEmbeddingTimeout  = 15
	DefaultSearchTimeout     = 20
	DefaultCompletionTimeout = 30
	DefaultRetryAttempts     = 3
	DefaultRetryMinWait      = 1
	DefaultRetryMaxWait      = 8
)

// WithDefaults returns a copy with zero numeric fields and an empty
// embedding deployment filled in. A defaulted max wait never falls below
// the min wait.
func (t TenantConfig) WithDefaults() TenantConfig {
	if t.EmbeddingDeployment == "" {
		t.EmbeddingDeployment = t.CompletionDeployment
	}
	if t.EmbeddingTimeout <= 0 {
		t.EmbeddingTimeout = DefaultEmbeddingTimeout
	}
	if t.SearchTimeout <= 0 {
		t.SearchTimeout = DefaultSearchTimeout
	}
	if t.CompletionTimeout <= 0 {
		t.CompletionTimeout = DefaultCompletionTimeout
	}
	if t.RetryAttempts <= 0 {
		t.RetryAttempts = DefaultRetryAttempts
	}
	if t.RetryMinWaitSeconds <= 0 {
		t.RetryMinWaitSeconds = DefaultRetryMinWait
	}
	if t.RetryMaxWaitSeconds <= 0 {
		t.RetryMaxWaitSeconds = max(DefaultRetryMaxWait, t.RetryMinWaitSeconds)
	}
	return t
}

// Validate reports every missing required field as a configuration error.
func (t TenantConfig) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"id", t.ID},
		{"search_endpoint", t.SearchEndpoint},
		{"search_api_key", t.SearchAPIKey},
		{"index_name", t.IndexName},
		{"completion_endpoint", t.CompletionEndpoint},
		{"completion_api_key", t.CompletionAPIKey},
		{"completion_deployment", t.CompletionDeployment},
		{"embedding_deployment", t.EmbeddingDeployment},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.ErrConfiguration(fmt.Sprintf("tenant %q is missing %s", t.ID, strings.Join(missing, ", ")))
	}
	if t.RetryMaxWaitSeconds > 0 && t.RetryMaxWaitSeconds < t.RetryMinWaitSeconds {
		return domain.ErrConfiguration(fmt.Sprintf("tenant %q retry_max_wait is below retry_min_wait", t.ID))
	}
	return nil
}

// Seconds converts a seconds field to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (if present), overlays RAG_* env vars and resolves secrets.
// Env keys use "__" for nesting, e.g. RAG_SERVER__PORT.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("RAG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RAG_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Completion.Endpoint = firstNonEmpty(substituteEnvVars(cfg.Completion.Endpoint), os.Getenv("AZURE_OPENAI_ENDPOINT"))
	cfg.Completion.APIKey = firstNonEmpty(substituteEnvVars(cfg.Completion.APIKey), os.Getenv("AZURE_OPENAI_API_KEY"))
	cfg.Completion.Deployment = firstNonEmpty(substituteEnvVars(cfg.Completion.Deployment), os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME"))

	for i := range cfg.Tenants {
		cfg.Tenants[i] = resolveTenant(cfg.Tenants[i], cfg.Completion)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                   8080,
		"server.request_timeout":        120,
		"startup.validate":              envBool("AZURE_VALIDATE_ON_STARTUP"),
		"startup.environment":           firstNonEmpty(os.Getenv("DEPLOYMENT_ENV"), "dev"),
		"startup.probe_timeout":         envFloat("AZURE_CHECK_TIMEOUT", 5),
		"pipeline.top_k":                5,
		"pipeline.context_token_budget": 3000,
		"pipeline.max_answer_tokens":    400,
		"pipeline.temperature":          0.2,
		"pipeline.tokenizer_model":      "gpt-4o-mini",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// resolveTenant fills secrets from env indirection and injects the global
// completion settings where the tenant has none.
func resolveTenant(t TenantConfig, completion CompletionConfig) TenantConfig {
	t.SearchAPIKey = resolveSecret(t.SearchAPIKey, t.SearchAPIKeyEnv)
	t.CompletionAPIKey = resolveSecret(t.CompletionAPIKey, t.CompletionAPIKeyEnv)
	t.SearchEndpoint = substituteEnvVars(t.SearchEndpoint)
	t.CompletionEndpoint = substituteEnvVars(t.CompletionEndpoint)

	t.CompletionEndpoint = firstNonEmpty(t.CompletionEndpoint, completion.Endpoint)
	t.CompletionAPIKey = firstNonEmpty(t.CompletionAPIKey, completion.APIKey)
	t.CompletionDeployment = firstNonEmpty(t.CompletionDeployment, completion.Deployment)
	return t
}

// resolveSecret prefers an inline value (with ${VAR} substitution) and
// otherwise reads the env var named by envName. A "keyvault:" reference is
// looked up as an env var under its full name.
func resolveSecret(value, envName string) string {
	if value != "" {
		return substituteEnvVars(value)
	}
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envFloat(name string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(name), 64); err == nil && v > 0 {
		return v
	}
	return fallback
}
