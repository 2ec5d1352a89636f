package ports

import (
	"context"
	"time"

	"FeedScanner/internal/domain"
)

// SourceCatalog exposes the read side of externally managed configuration.
type SourceCatalog interface {
	ActiveSources(ctx context.Context) ([]domain.FeedSource, error)
	ActiveCategories(ctx context.Context) ([]domain.Category, error)
}

// ItemRepository persists admitted items and answers dedup lookups.
type ItemRepository interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	SaveItem(ctx context.Context, item *domain.Item) error
	DeleteIngestedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAllItems(ctx context.Context) (int64, error)
	RecentItems(ctx context.Context, limit int) ([]domain.Item, error)
}

// FeedFetcher retrieves the entries currently published by a source.
type FeedFetcher interface {
	Fetch(ctx context.Context, source domain.FeedSource) ([]domain.Entry, error)
}

// ContentExtractor turns a raw entry into plain body text.
type ContentExtractor interface {
	Extract(ctx context.Context, entry domain.Entry) (string, error)
}

// Classifier scores and categorizes an entry against the active taxonomy.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (domain.Classification, error)
}

// ClassifyRequest carries everything the classifier needs for one entry.
type ClassifyRequest struct {
	Title      string
	Author     string
	Content    string
	SourceURL  string
	Categories []domain.Category
}

// Completer sends one system/user prompt pair to a language model and returns its raw text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// RunLock guards pipeline runs across processes.
type RunLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
