package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Kind names an embedding provider.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindFastEmbed Kind = "fastembed"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	Kind  Kind
	Model string

	// APIKey authenticates hosted providers.
	APIKey string

	// BaseURL overrides the OpenAI endpoint.
	BaseURL string

	// Dimension overrides the dimension inferred from the model name.
	Dimension int

	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
}

// ConfigFrom builds a ProviderConfig from application config, picking the
// API key that matches the provider.
func ConfigFrom(cfg config.EmbeddingsConfig, llm config.LLMConfig) ProviderConfig {
	pc := ProviderConfig{
		Kind:      Kind(cfg.Provider),
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		CacheDir:  cfg.CacheDir,
	}
	switch pc.Kind {
	case KindGemini:
		pc.APIKey = llm.GeminiAPIKey.Value()
	case KindOpenAI:
		pc.APIKey = llm.OpenAIAPIKey.Value()
	}
	return pc
}

// knownDimensions lists output sizes of hosted models.
var knownDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-004":     768,
	"embedding-001":          768,
}

func dimensionFor(model string, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if dim, ok := knownDimensions[model]; ok {
		return dim, nil
	}
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim, nil
	}
	return 0, fmt.Errorf("%w: unknown dimension for model %q, set embeddings.dimension", ErrInvalidConfig, model)
}

// NewProvider creates an embedding provider and wraps it with metrics.
func NewProvider(ctx context.Context, cfg ProviderConfig, metrics *Metrics) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Kind {
	case KindOpenAI, "":
		p, err = NewOpenAIProvider(cfg)
	case KindGemini:
		p, err = NewGeminiProvider(ctx, cfg)
	case KindFastEmbed:
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		return p, nil
	}
	return &instrumented{Provider: p, metrics: metrics, model: cfg.Model}, nil
}

// normalize replaces newlines with spaces before embedding.
func normalize(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = normalize(t)
	}
	return out
}
