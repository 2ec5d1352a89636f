package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"FeedScanner/internal/config"
	"FeedScanner/internal/ports"
)

// LangChainClient implements ports.Completer through langchaingo, typically
// against a local OpenAI-compatible server.
type LangChainClient struct {
	model       llms.Model
	maxTokens   int
	temperature float64
}

var _ ports.Completer = (*LangChainClient)(nil)

// NewLangChainClient builds a client from configuration. Endpoint is the base URL
// of the OpenAI-compatible API, e.g. http://localhost:11434/v1.
func NewLangChainClient(cfg config.LLMConfig) (*LangChainClient, error) {
	token := cfg.APIKey
	if token == "" {
		// local servers ignore the token but langchaingo requires one
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain client: %w", err)
	}
	return &LangChainClient{model: client, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}, nil
}

// Complete sends the prompt pair in JSON mode and returns the first choice.
func (c *LangChainClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userPrompt)},
		},
	}

	callOpts := []llms.CallOption{llms.WithTemperature(c.temperature), llms.WithJSONMode()}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("langchain returned no choices")
	}
	return firstNonEmpty(resp.Choices[0].Content), nil
}
