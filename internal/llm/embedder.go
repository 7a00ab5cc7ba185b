package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/matgraph/internal/config"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/retry"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns ontology labels into fixed-size vectors for the class
// index. Every returned vector has exactly the configured dimension.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	policies  retry.Policies
	metrics   *metrics.Collector
}

func embeddingClient(cfg config.Config) (embeddings.EmbedderClient, error) {
	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		return ollama.New(ollama.WithModel(cfg.EmbedModel), ollama.WithServerURL(cfg.OllamaHost))
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		return openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithEmbeddingModel(cfg.EmbedModel))
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}
}

// NewEmbedder builds the embedder for cfg.EmbedProvider.
func NewEmbedder(cfg config.Config, collector *metrics.Collector) (*Embedder, error) {
	client, err := embeddingClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", cfg.EmbedProvider, err)
	}
	model, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", cfg.EmbedProvider, err)
	}
	return &Embedder{
		model:     model,
		dimension: cfg.EmbedDimension,
		modelName: cfg.EmbedModel,
		policies:  retry.DefaultPolicies(),
		metrics:   collector,
	}, nil
}

// Embed returns the vector for a single label.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one provider call. The result is index-aligned
// with texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	var vectors [][]float32
	err := retry.Do(ctx, e.policies, "embed", func() error {
		var err error
		vectors, err = e.model.EmbedDocuments(ctx, texts)
		return classifyProviderError(err)
	})
	e.metrics.Since(metrics.OpEmbedding, start)
	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "texts", len(texts),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embed %q: dimension mismatch: got %d, want %d", texts[i], len(v), e.dimension)
		}
	}
	slog.Debug("embedded", "model", e.modelName, "texts", len(texts), "duration_ms", time.Since(start).Milliseconds())
	return vectors, nil
}
