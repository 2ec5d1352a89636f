package parser

import (
	"context"
	"strings"

	"FeedScanner/internal/domain"
)

// InlineStrategy reads the body the feed itself carries.
type InlineStrategy struct{}

// NewInlineStrategy builds the default extraction strategy.
func NewInlineStrategy() *InlineStrategy {
	return &InlineStrategy{}
}

// Name returns the registry key.
func (InlineStrategy) Name() string {
	return "inline"
}

// Extract prefers the entry description and falls back to its full content.
func (InlineStrategy) Extract(_ context.Context, entry domain.Entry) (string, error) {
	return inlineText(entry), nil
}

func inlineText(entry domain.Entry) string {
	if text := HTMLToText(entry.Description); strings.TrimSpace(text) != "" {
		return text
	}
	return HTMLToText(entry.Content)
}
