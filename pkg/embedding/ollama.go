package embedding

import (
	"context"
	"fmt"
	"time"

	"finreport-qa/internal/config"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

type ollamaClient struct {
	llm     *ollama.LLM
	dims    int
	timeout time.Duration
	limiter *rate.Limiter
}

// NewOllamaClient creates an embedding client backed by a local Ollama server.
func NewOllamaClient(cfg config.EmbeddingConfig) (Client, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return &ollamaClient{llm: llm, dims: cfg.Dimensions, timeout: cfg.Timeout, limiter: newLimiter(cfg)}, nil
}

func (c *ollamaClient) Dimensions() int { return c.dims }

func (c *ollamaClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	vecs, err := c.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("received empty embedding from ollama")
	}
	if err := checkDims(vecs[0], c.dims); err != nil {
		return nil, err
	}
	return vecs[0], nil
}
