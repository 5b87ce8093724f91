package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/typefold/newsrag/internal/types"
)

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int
}

// Embedder maps text to fixed-dimension vectors through an Ollama embedding
// model. The model tag and dimension are fixed at construction; the vector
// index must be built with the same pair.
type Embedder struct {
	config EmbedderConfig
	llm    *ollama.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config: config,
		llm:    emb,
	}, nil
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) ModelTag() string {
	return e.config.Model
}

// EmbedBatch embeds texts in a single adapter call. Empty texts are rejected
// up front so the caller can skip the offending item instead of sending a
// request that will fail.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text %d: %w", i, types.ErrEmptyText)
		}
	}

	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.config.Dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d: %w",
				i, len(v), e.config.Dimension, types.ErrDimensionMismatch)
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
