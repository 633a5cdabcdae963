package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finreport-qa/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

type ollamaClient struct {
	llm     llms.Model
	cfg     config.LLMConfig
	timeout time.Duration
}

// NewOllamaClient creates a chat client backed by a local Ollama server.
func NewOllamaClient(cfg config.LLMConfig) (Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434" // Default Ollama URL
	}
	model, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return &ollamaClient{llm: model, cfg: cfg, timeout: cfg.Timeout}, nil
}

func toMessageContent(messages []Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content
}

func (c *ollamaClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if gen == nil {
		gen = ParamsFromConfig(c.cfg.Generation)
	}
	opts := make([]llms.CallOption, 0, 3)
	if gen.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*gen.Temperature))
	}
	if gen.TopP != nil {
		opts = append(opts, llms.WithTopP(*gen.TopP))
	}
	if gen.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*gen.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, toMessageContent(messages), opts...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("ollama returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
