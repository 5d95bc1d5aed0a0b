package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/groundchat/provider/types"
	openai "github.com/sashabaranov/go-openai"
)

// Client implements the provider interface using OpenAI's API
type Client struct {
	api            *openai.Client
	embeddingModel string
	logger         *log.Logger
}

// NewOpenAIClient creates a new OpenAI client. A zero timeout leaves requests
// bounded only by their context.
func NewOpenAIClient(apiKey, baseURL, embeddingModel string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		api:            openai.NewClientWithConfig(cfg),
		embeddingModel: embeddingModel,
		logger:         log.New(log.Writer(), "[OPENAI] ", log.LstdFlags),
	}
}

// Complete sends a chat completion request and returns the first choice
func (c *Client) Complete(ctx context.Context, model string, messages []types.Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streamed chat completion
func (c *Client) Stream(ctx context.Context, model string, messages []types.Message) (types.Stream, error) {
	s, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	return &stream{s: s}, nil
}

// CreateEmbedding generates an embedding for each of the given texts
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		c.logger.Printf("warn: embeddings returned %d vectors for %d inputs", len(resp.Data), len(texts))
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

type stream struct {
	s *openai.ChatCompletionStream
}

func (st *stream) Recv() (string, error) {
	resp, err := st.s.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (st *stream) Close() error { return st.s.Close() }

func toOpenAI(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
