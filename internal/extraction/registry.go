package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

// Strategy captures a single way of turning an entry into body text (inline, scrape, etc.).
type Strategy interface {
	Name() string
	Extract(ctx context.Context, entry domain.Entry) (string, error)
}

// Registry keeps a mapping from strategy names to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(strategy Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[strings.ToLower(strategy.Name())] = strategy
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if strategy, ok := r.strategies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return strategy, nil
	}
	return nil, fmt.Errorf("extraction strategy %q is not registered (have %s)", name, strings.Join(r.Names(), ", "))
}

// Names lists registered strategies in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extractor implements ports.ContentExtractor with one resolved strategy.
type Extractor struct {
	strategy Strategy
	logger   *slog.Logger
}

var _ ports.ContentExtractor = (*Extractor)(nil)

// NewExtractor resolves the named strategy from the registry.
func NewExtractor(reg *Registry, name string, logger *slog.Logger) (*Extractor, error) {
	if reg == nil {
		return nil, fmt.Errorf("extraction registry is not configured")
	}
	strategy, err := reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{strategy: strategy, logger: logger}, nil
}

// Extract returns trimmed body text, or domain.ErrNoContent when nothing readable is left.
func (e *Extractor) Extract(ctx context.Context, entry domain.Entry) (string, error) {
	text, err := e.strategy.Extract(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("%s extraction: %w", e.strategy.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		e.logger.Debug("entry has no content", "link", entry.Link, "strategy", e.strategy.Name())
		return "", domain.ErrNoContent
	}
	return text, nil
}
