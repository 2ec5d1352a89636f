package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

const (
	defaultMaxContentChars = 2500

	// UnknownCategoryDrop keeps the verdict and clears a category outside the taxonomy.
	UnknownCategoryDrop = "drop"
	// UnknownCategoryReject treats a category outside the taxonomy as a failed classification.
	UnknownCategoryReject = "reject"
)

// Options tune prompt size, pacing and category policy.
type Options struct {
	MinInterval     time.Duration
	MaxContentChars int
	UnknownCategory string
	SystemPrompt    string
}

// Client turns a completion backend into a ports.Classifier.
type Client struct {
	completer ports.Completer
	limiter   *rate.Limiter
	opts      Options
	logger    *slog.Logger
}

var _ ports.Classifier = (*Client)(nil)

// New wires the completion backend with the configured throttle.
func New(completer ports.Completer, opts Options, logger *slog.Logger) *Client {
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = defaultMaxContentChars
	}
	if opts.UnknownCategory == "" {
		opts.UnknownCategory = UnknownCategoryDrop
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Client{
		completer: completer,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logger,
	}
}

// Classify asks the model for highlights, a category, a score and an author.
// Every failure wraps domain.ErrClassificationFailed.
func (c *Client) Classify(ctx context.Context, req ports.ClassifyRequest) (result domain.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Classification{}
			err = fmt.Errorf("%w: panic: %v", domain.ErrClassificationFailed, r)
		}
	}()

	if c.completer == nil {
		return domain.Classification{}, fmt.Errorf("%w: no completion backend", domain.ErrClassificationFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Classification{}, fmt.Errorf("%w: throttle: %v", domain.ErrClassificationFailed, err)
	}

	content := truncateRunes(strings.TrimSpace(req.Content), c.opts.MaxContentChars)
	prompt := buildUserPrompt(req.Title, req.Author, req.SourceURL, content, req.Categories)

	started := time.Now()
	answer, err := c.completer.Complete(ctx, c.opts.SystemPrompt, prompt)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("%w: %w", domain.ErrClassificationFailed, err)
	}

	v, err := decodeVerdict(answer)
	if err != nil {
		c.logger.Debug("undecodable classifier answer", "title", req.Title, "error", err)
		return domain.Classification{}, fmt.Errorf("%w: %w", domain.ErrClassificationFailed, err)
	}

	result = domain.Classification{
		Highlights:  NormalizeHighlights(v.Bullets),
		RawCategory: v.Category,
		Score:       v.Score,
		Author:      v.Author,
	}

	if v.Category != "" {
		canonical, ok := matchCategory(v.Category, req.Categories)
		switch {
		case ok:
			result.Category = canonical
		case c.opts.UnknownCategory == UnknownCategoryReject:
			return domain.Classification{}, fmt.Errorf("%w: %w", domain.ErrClassificationFailed, &UnknownCategoryError{Category: v.Category})
		default:
			c.logger.Debug("classifier answered unknown category", "title", req.Title, "category", v.Category)
		}
	}

	c.logger.Debug("entry classified",
		"title", req.Title,
		"category", result.Category,
		"score", result.Score,
		"highlights", len(result.Highlights),
		"elapsed", time.Since(started),
	)
	return result, nil
}

// UnknownCategoryError reports an answer naming a category outside the active taxonomy.
type UnknownCategoryError struct {
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("category %q is not active", e.Category)
}

func matchCategory(answer string, categories []domain.Category) (string, bool) {
	answer = strings.Join(strings.Fields(answer), " ")
	for _, cat := range categories {
		if strings.EqualFold(answer, strings.TrimSpace(cat.Name)) {
			return cat.Name, true
		}
	}
	return "", false
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
