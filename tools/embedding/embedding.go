package embedding

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/provider"
)

// Embedder turns texts into vectors of one fixed model. Vectors from different
// models are not comparable, so stores record ModelInfo next to them.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	ModelInfo() string
}

// Embedding delegates to the completion provider's embedding endpoint.
type Embedding struct {
	provider provider.Provider
	model    string
}

func NewEmbedding(provider provider.Provider, model string) *Embedding {
	return &Embedding{
		provider: provider,
		model:    model,
	}
}

func (e Embedding) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := e.provider.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(vecs), len(texts))
	}

	return vecs, nil
}

func (e Embedding) ModelInfo() string { return "provider:" + e.model }

// NewEmbedder picks the embedder named by cfg.EmbeddingProvider. p may be nil for
// the hash embedder.
func NewEmbedder(cfg config.LLMConfig, p provider.Provider) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		if p == nil {
			return nil, fmt.Errorf("embedding: provider required for %q", cfg.EmbeddingProvider)
		}
		return NewEmbedding(p, cfg.EmbeddingModel), nil
	case "hash":
		return NewHashEmbedder(cfg.HashDimensions), nil
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q", cfg.EmbeddingProvider)
	}
}
