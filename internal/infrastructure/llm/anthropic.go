package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"FeedScanner/internal/config"
	"FeedScanner/internal/ports"
)

// AnthropicClient implements ports.Completer with the llmkit Anthropic bindings.
type AnthropicClient struct {
	apiKey   string
	settings types.RequestSettings
}

var _ ports.Completer = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	return &AnthropicClient{
		apiKey: cfg.APIKey,
		settings: types.RequestSettings{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
	}
}

type anthropicResult struct {
	text string
	err  error
}

// Complete runs the prompt on its own goroutine; llmkit has no context support,
// so cancellation abandons the call instead of aborting it.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c == nil || c.apiKey == "" {
		return "", errors.New("anthropic client misconfigured")
	}

	done := make(chan anthropicResult, 1)
	go func() {
		resp, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", c.apiKey, c.settings)
		if err != nil {
			done <- anthropicResult{err: fmt.Errorf("anthropic prompt: %w", err)}
			return
		}
		if len(resp.Content) == 0 {
			done <- anthropicResult{err: errors.New("anthropic returned no content")}
			return
		}
		done <- anthropicResult{text: strings.TrimSpace(resp.Content[0].Text)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}
