package embeddings

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiBatchLimit is the most contents BatchEmbedContents accepts.
const geminiBatchLimit = 100

// GeminiProvider embeds text with the Gemini embedding models.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiProvider creates a Gemini embedder.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required", ErrInvalidConfig)
	}
	dim, err := dimensionFor(cfg.Model, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model, dimension: dim}, nil
}

// EmbedDocuments embeds texts in batches as retrieval documents.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	em := p.client.EmbeddingModel(p.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(normalize(t)))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single retrieval query.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	em := p.client.EmbeddingModel(p.model)
	em.TaskType = genai.TaskTypeRetrievalQuery
	res, err := em.EmbedContent(ctx, genai.Text(normalize(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return res.Embedding.Values, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *GeminiProvider) Dimension() int { return p.dimension }

// Close closes the underlying client.
func (p *GeminiProvider) Close() error { return p.client.Close() }
