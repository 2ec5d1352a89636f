package llm

import (
	"fmt"

	"FeedScanner/internal/config"
	"FeedScanner/internal/ports"
)

// New selects the completion backend named by cfg.Provider.
func New(cfg config.LLMConfig) (ports.Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case config.ProviderLangChain:
		return NewLangChainClient(cfg)
	default:
		return nil, fmt.Errorf("llm provider %q is not supported", cfg.Provider)
	}
}
