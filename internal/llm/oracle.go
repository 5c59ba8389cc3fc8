// Package llm wraps the language-model provider behind the two-method
// oracle the engine depends on: prompt-in/text-out generation and text
// embedding. The engine never sees the provider SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
)

// Oracle is the model interface the engine is written against. Only the
// embedding dimension is load-bearing; the model behind it is opaque.
type Oracle interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds provider settings.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int
	EmbedCacheSize int
}

// OpenAIOracle implements Oracle over the OpenAI API.
type OpenAIOracle struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
	lru    *embedLRU
}

// NewOpenAIOracle creates the provider client. Defaults match the service
// configuration: gpt-4o-mini for generation, 768-dim small embeddings.
func NewOpenAIOracle(cfg Config, logger *zap.Logger) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.EmbedCacheSize == 0 {
		cfg.EmbedCacheSize = 2048
	}
	return &OpenAIOracle{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger,
		lru:    newEmbedLRU(cfg.EmbedCacheSize),
	}, nil
}

// Generate produces the reply text for a prompt.
func (o *OpenAIOracle) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	metrics.OracleCallDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleCalls.WithLabelValues("generate", "error").Inc()
		return "", fmt.Errorf("llm generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.OracleCalls.WithLabelValues("generate", "empty").Inc()
		return "", errors.New("llm generate: no choices returned")
	}
	metrics.OracleCalls.WithLabelValues("generate", "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the vector for a text, through the in-process LRU first.
func (o *OpenAIOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedKey(o.cfg.EmbeddingModel, text)
	if v, ok := o.lru.Get(key); ok {
		metrics.EmbeddingCacheHits.Inc()
		return v, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	start := time.Now()
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.cfg.EmbeddingModel),
		Dimensions: o.cfg.EmbeddingDim,
	})
	metrics.OracleCallDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleCalls.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("llm embed: %w", err)
	}
	if len(resp.Data) == 0 {
		metrics.OracleCalls.WithLabelValues("embed", "empty").Inc()
		return nil, errors.New("llm embed: no embeddings returned")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != o.cfg.EmbeddingDim {
		metrics.OracleCalls.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("llm embed: got %d dims, want %d", len(vec), o.cfg.EmbeddingDim)
	}
	metrics.OracleCalls.WithLabelValues("embed", "ok").Inc()

	o.lru.Set(key, vec, time.Hour)
	return vec, nil
}
