package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "litreview/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// SearchConfig holds settings for the retrieval stage.
type SearchConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxResults is the default number of candidates to request (default 5).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// ArxivBaseURL overrides the arXiv API endpoint.
	ArxivBaseURL string `json:"arxiv_base_url,omitempty" yaml:"arxiv_base_url,omitempty"`
}

// AcquisitionConfig holds settings for the document fetch stage.
type AcquisitionConfig struct {
	HTTPConfig `yaml:",inline"`

	// PapersDir is the base directory for papers (contains raw/).
	PapersDir string `json:"papers_dir" yaml:"papers_dir"`
}

// ExtractionBackendKind selects how document text is recovered.
type ExtractionBackendKind string

const (
	ExtractPDF        ExtractionBackendKind = "pdf"
	ExtractMarkitdown ExtractionBackendKind = "markitdown"
)

// ExtractionConfig holds settings for the text extraction stage.
type ExtractionConfig struct {
	// Backend selects the extractor: pdf (native) or markitdown (container).
	Backend ExtractionBackendKind `json:"backend" yaml:"backend"`

	// Image is the markitdown container image (default "markitdown:latest").
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// AIBackendKind selects the text generation backend.
type AIBackendKind string

const (
	BackendClaude AIBackendKind = "claude"
	BackendOpenAI AIBackendKind = "openai"
)

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Backend selects the generation API: claude or openai.
	Backend AIBackendKind `json:"backend" yaml:"backend"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// BaseURL overrides the API endpoint (OpenAI-compatible servers, Ollama).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxTokens caps the length of each generated response (default 1024).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature (default 0.3).
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// EmbeddingConfig holds settings for the embedding adapter.
type EmbeddingConfig struct {
	// Model is the embedding model identifier.
	Model string `json:"model" yaml:"model"`

	// BaseURL is the OpenAI-compatible API root (default https://api.openai.com/v1).
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey is the authentication key for the embedding API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Dimension is the expected vector length. Zero accepts whatever the
	// first response returns.
	Dimension int `json:"dimension" yaml:"dimension"`
}

// KnowledgeStoreKind selects the knowledge base backend.
type KnowledgeStoreKind string

const (
	StoreSQLite   KnowledgeStoreKind = "sqlite"
	StorePostgres KnowledgeStoreKind = "postgres"
)

// KnowledgeBaseConfig holds settings for the knowledge base.
type KnowledgeBaseConfig struct {
	// Store selects the backend: sqlite or postgres.
	Store KnowledgeStoreKind `json:"store" yaml:"store"`

	// KnowledgeDir is the base directory for knowledge (contains index/, runs/).
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir"`

	// PostgresDSN is the connection string used when Store is postgres.
	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`

	// MaxResults is the default number of neighbors returned by queries (default 10).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// SynthesisConfig holds settings for the synthesis composer.
type SynthesisConfig struct {
	// RelatedPapers is the number of knowledge base neighbors consulted to
	// widen the contributor set (default 10).
	RelatedPapers int `json:"related_papers" yaml:"related_papers"`

	// MaxTokens caps each bucket's generated response (default 2000).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Search        SearchConfig        `json:"search" yaml:"search"`
	Acquisition   AcquisitionConfig   `json:"acquisition" yaml:"acquisition"`
	Extraction    ExtractionConfig    `json:"extraction" yaml:"extraction"`
	AI            AIConfig            `json:"ai" yaml:"ai"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base"`
	Synthesis     SynthesisConfig     `json:"synthesis" yaml:"synthesis"`

	// Concurrency is the default number of papers processed at once (default 4).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is the number of retries for transient failures (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the base backoff delay, doubled per retry (default 1s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// MaxAttempts bounds automatic re-processing of failed papers (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultPipelineConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultPipelineConfig() PipelineConfig {
	http := HTTPConfig{Timeout: 60 * time.Second, UserAgent: "litreview/0.1"}
	return PipelineConfig{
		Search:      SearchConfig{HTTPConfig: http, MaxResults: 5},
		Acquisition: AcquisitionConfig{HTTPConfig: http, PapersDir: "papers"},
		Extraction:  ExtractionConfig{Backend: ExtractPDF},
		AI: AIConfig{
			Backend:     BackendClaude,
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Embedding: EmbeddingConfig{
			Model:   "text-embedding-3-small",
			BaseURL: "https://api.openai.com/v1",
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Store:        StoreSQLite,
			KnowledgeDir: "knowledge",
			MaxResults:   10,
		},
		Synthesis:   SynthesisConfig{RelatedPapers: 10, MaxTokens: 2000},
		Concurrency: 4,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		MaxAttempts: 3,
	}
}

// Validate checks values that would make a run meaningless. Errors are
// ConfigurationErrors naming the offending field.
func (c PipelineConfig) Validate() error {
	switch {
	case c.Concurrency < 1:
		return Configf("concurrency", "must be at least 1, got %d", c.Concurrency)
	case c.MaxRetries < 0:
		return Configf("max_retries", "must not be negative, got %d", c.MaxRetries)
	case c.RetryDelay < 0:
		return Configf("retry_delay", "must not be negative, got %s", c.RetryDelay)
	case c.MaxAttempts < 1:
		return Configf("max_attempts", "must be at least 1, got %d", c.MaxAttempts)
	case c.Embedding.Dimension < 0:
		return Configf("embedding.dimension", "must not be negative, got %d", c.Embedding.Dimension)
	}
	switch c.AI.Backend {
	case BackendClaude, BackendOpenAI:
	default:
		return Configf("ai.backend", "unknown backend %q", c.AI.Backend)
	}
	switch c.Extraction.Backend {
	case ExtractPDF, ExtractMarkitdown:
	default:
		return Configf("extraction.backend", "unknown backend %q", c.Extraction.Backend)
	}
	switch c.KnowledgeBase.Store {
	case StoreSQLite:
	case StorePostgres:
		if c.KnowledgeBase.PostgresDSN == "" {
			return Configf("knowledge_base.postgres_dsn", "required for the postgres store")
		}
	default:
		return Configf("knowledge_base.store", "unknown store %q", c.KnowledgeBase.Store)
	}
	return nil
}

// String summarizes the config for debug logs without leaking keys.
func (c PipelineConfig) String() string {
	return fmt.Sprintf("backend=%s model=%s embed=%s store=%s concurrency=%d",
		c.AI.Backend, c.AI.Model, c.Embedding.Model, c.KnowledgeBase.Store, c.Concurrency)
}
