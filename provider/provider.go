package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/mohammad-safakhou/groundchat/config"
	openai_provider "github.com/mohammad-safakhou/groundchat/provider/openai"
	"github.com/mohammad-safakhou/groundchat/provider/types"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
)

type (
	Message = types.Message
	Stream  = types.Stream
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
)

// Provider is the completion service the session engine talks to.
type Provider interface {
	// Complete returns a single, non-streamed reply.
	Complete(ctx context.Context, model string, messages []Message) (string, error)
	// Stream returns a lazy sequence of text fragments.
	Stream(ctx context.Context, model string, messages []Message) (Stream, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

var ErrMissingAPIKey = errors.New("llm api key not set (llm.api_key or OPENAI_API_KEY)")

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(strings.ToLower(cfg.Provider)) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return openai_provider.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.Timeout), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
