package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/provider"
	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/mohammad-safakhou/groundchat/store/snapshot"
	"github.com/mohammad-safakhou/groundchat/tools/embedding"
)

// storeResources is what every command touching the similarity store needs.
type storeResources struct {
	provider provider.Provider
	store    *store.Store
	snap     store.Snapshotter
	logger   *log.Logger
}

// openStore builds the provider, embedder and snapshotter named by cfg and loads
// the last snapshot. The provider is nil when the hash embedder is configured and no
// API key is set; requireProvider turns that into an error.
func openStore(ctx context.Context, cfg *config.Config, requireProvider bool) (*storeResources, error) {
	res := &storeResources{logger: log.New(os.Stdout, "[GROUNDCHAT] ", log.LstdFlags)}

	p, err := provider.NewProvider(cfg.LLM)
	switch {
	case err == nil:
		res.provider = p
	case requireProvider || cfg.LLM.EmbeddingProvider != "hash":
		return nil, fmt.Errorf("llm provider init: %w", err)
	default:
		res.logger.Printf("warn: llm provider unavailable: %v", err)
	}

	embedder, err := embedding.NewEmbedder(cfg.LLM, res.provider)
	if err != nil {
		return nil, err
	}
	res.snap, err = snapshot.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("snapshot init: %w", err)
	}
	res.store, err = store.Open(ctx, embedder, res.snap)
	if err != nil {
		res.closeSnap()
		return nil, fmt.Errorf("open store: %w", err)
	}
	res.logger.Printf("store ready: %d documents, embedder %s", res.store.Len(), embedder.ModelInfo())
	return res, nil
}

func (r *storeResources) closeSnap() {
	if c, ok := r.snap.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Printf("warn: close snapshot backend: %v", err)
		}
	}
}

func (r *storeResources) Shutdown() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Printf("warn: close store: %v", err)
		}
	}
	r.closeSnap()
}
