package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

const (
	// AdmissionThreshold is the minimum relevancy score an item needs to be stored.
	AdmissionThreshold = 75
	// RetentionHorizon is how long a stored item lives, and how old an entry may be
	// to be considered at all.
	RetentionHorizon = 24 * time.Hour
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Catalog    ports.SourceCatalog
	Repository ports.ItemRepository
	Fetcher    ports.FeedFetcher
	Extractor  ports.ContentExtractor
	Classifier ports.Classifier
	// Lock is optional and extends the single-flight guarantee across processes.
	Lock   ports.RunLock
	Logger *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Concurrency above 1 prefetches that many sources in parallel.
	Concurrency int
	Authors     AuthorChain
}

// Pipeline implements the feed-ingestion workflow.
type Pipeline struct {
	catalog     ports.SourceCatalog
	repository  ports.ItemRepository
	fetcher     ports.FeedFetcher
	extractor   ports.ContentExtractor
	classifier  ports.Classifier
	lock        ports.RunLock
	sweeper     *Sweeper
	logger      *slog.Logger
	clock       func() time.Time
	concurrency int
	authors     AuthorChain

	guard   RunGuard
	entropy *ulid.MonotonicEntropy
	idMu    sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		catalog:     deps.Catalog,
		repository:  deps.Repository,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		classifier:  deps.Classifier,
		lock:        deps.Lock,
		sweeper:     NewSweeper(deps.Repository),
		logger:      deps.Logger,
		clock:       deps.Clock,
		concurrency: deps.Concurrency,
		authors:     deps.Authors,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if len(p.authors) == 0 {
		p.authors = DefaultAuthorChain()
	}
	return p
}

// Busy reports whether a run is in progress in this process.
func (p *Pipeline) Busy() bool {
	return p.guard.Busy()
}

// ClearAll deletes every stored item.
func (p *Pipeline) ClearAll(ctx context.Context) (int64, error) {
	if p.repository == nil {
		return 0, errors.New("pipeline has no repository")
	}
	removed, err := p.repository.DeleteAllItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	p.logger.Info("items cleared", "removed", removed)
	return removed, nil
}

// Run executes one ingestion pass. It never returns an error: failures, a busy
// pipeline and a missing taxonomy are all reported through the outcome.
func (p *Pipeline) Run(ctx context.Context) domain.Outcome {
	out := domain.Outcome{RunID: p.newRunID(), Started: p.clock()}
	logger := p.logger.With("run_id", out.RunID)

	if !p.guard.TryEnter() {
		logger.Info("run skipped, already processing")
		return p.finish(out, domain.RunBusy, "")
	}
	defer p.guard.Exit()

	if p.lock != nil {
		acquired, err := p.lock.TryLock()
		if err != nil {
			logger.Error("run lock failed", "error", err)
			return p.finish(out, domain.RunFailed, err.Error())
		}
		if !acquired {
			logger.Info("run skipped, another process is running")
			return p.finish(out, domain.RunBusy, "")
		}
		defer func() {
			if err := p.lock.Unlock(); err != nil {
				logger.Warn("run lock release failed", "error", err)
			}
		}()
	}

	logger.Info("run started")
	status, message := p.execute(ctx, logger, &out)
	out = p.finish(out, status, message)
	logger.Info("run finished",
		"status", out.Status,
		"seen", out.Stats.Seen,
		"persisted", out.Stats.Persisted,
		"swept", out.Stats.Swept,
		"source_errors", out.Stats.SourceErrors,
		"duration", out.Duration(),
	)
	return out
}

func (p *Pipeline) finish(out domain.Outcome, status domain.RunStatus, message string) domain.Outcome {
	out.Status = status
	out.Message = message
	out.Finished = p.clock()
	return out
}

func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, out *domain.Outcome) (status domain.RunStatus, message string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r)
			status, message = domain.RunFailed, fmt.Sprintf("panic: %v", r)
		}
	}()

	if p.catalog == nil || p.repository == nil || p.fetcher == nil || p.extractor == nil || p.classifier == nil {
		return domain.RunFailed, "pipeline is not fully configured"
	}

	now := p.clock()
	swept, err := p.sweeper.Sweep(ctx, now, RetentionHorizon)
	if err != nil {
		logger.Warn("retention sweep failed", "error", err)
	} else {
		out.Stats.Swept = swept
		logger.Debug("retention sweep done", "removed", swept)
	}

	sources, err := p.catalog.ActiveSources(ctx)
	if err != nil {
		logger.Error("load sources failed", "error", err)
		return domain.RunFailed, fmt.Sprintf("load sources: %v", err)
	}
	categories, err := p.catalog.ActiveCategories(ctx)
	if err != nil {
		logger.Error("load categories failed", "error", err)
		return domain.RunFailed, fmt.Sprintf("load categories: %v", err)
	}
	if len(categories) == 0 {
		logger.Info("no active categories, nothing to classify against")
		return domain.RunNoCategories, ""
	}

	r := &run{
		pipeline:   p,
		logger:     logger,
		categories: categories,
		seen:       make(map[string]struct{}),
		out:        out,
	}
	for res := range p.fetchSources(ctx, sources) {
		r.processSource(ctx, res)
	}
	return domain.RunCompleted, ""
}

type fetchResult struct {
	source  domain.FeedSource
	entries []domain.Entry
	err     error
}

// fetchSources yields fetch results in source order. With concurrency above 1
// the fetches run ahead on an ants pool while earlier sources are processed.
func (p *Pipeline) fetchSources(ctx context.Context, sources []domain.FeedSource) <-chan fetchResult {
	results := make(chan fetchResult)

	if p.concurrency <= 1 || len(sources) <= 1 {
		go func() {
			defer close(results)
			for _, src := range sources {
				results <- p.fetchOne(ctx, src)
			}
		}()
		return results
	}

	pending := make([]chan fetchResult, len(sources))
	for i := range pending {
		pending[i] = make(chan fetchResult, 1)
	}

	pool, err := ants.NewPool(p.concurrency)
	go func() {
		defer close(results)
		if pool != nil {
			defer pool.Release()
		}
		for i, src := range sources {
			slot := pending[i]
			task := func() { slot <- p.fetchOne(ctx, src) }
			if err != nil || pool.Submit(task) != nil {
				task()
			}
		}
		for _, slot := range pending {
			results <- <-slot
		}
	}()
	return results
}

func (p *Pipeline) fetchOne(ctx context.Context, src domain.FeedSource) (res fetchResult) {
	res.source = src
	defer func() {
		if r := recover(); r != nil {
			res.entries, res.err = nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	res.entries, res.err = p.fetcher.Fetch(ctx, src)
	return res
}

func (p *Pipeline) newRunID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(p.clock()), p.entropy).String()
}

// run holds the state of one pass: the taxonomy, the in-run URL set and the outcome.
type run struct {
	pipeline   *Pipeline
	logger     *slog.Logger
	categories []domain.Category
	seen       map[string]struct{}
	out        *domain.Outcome
}

func (r *run) processSource(ctx context.Context, res fetchResult) {
	stats := &r.out.Stats
	stats.Sources++
	logger := r.logger.With("source", res.source.Name)

	defer func() {
		if rec := recover(); rec != nil {
			stats.SourceErrors++
			logger.Error("source processing panicked", "panic", rec)
		}
	}()

	if res.err != nil {
		stats.SourceErrors++
		logger.Warn("fetch source failed", "url", res.source.URL, "error", res.err)
		return
	}
	logger.Debug("source fetched", "entries", len(res.entries))

	for _, entry := range res.entries {
		stats.Seen++
		item, err := r.processEntry(ctx, logger, res.source, entry)
		if err != nil {
			r.count(logger, entry, err)
			continue
		}
		if item == nil {
			continue
		}
		stats.Persisted++
		if item.CategoryName == "" {
			stats.Uncategorized++
		}
		r.out.Items = append(r.out.Items, *item)
		logger.Info("item persisted",
			"title", item.Title,
			"url", item.URL,
			"category", item.CategoryName,
			"score", item.RelevancyScore,
		)
	}
}

// skip reasons that are not failures of any collaborator.
var (
	errStale          = errors.New("published before retention horizon")
	errMissingLink    = errors.New("entry has no link")
	errSeenInRun      = errors.New("link already seen in this run")
	errBelowThreshold = errors.New("relevancy below admission threshold")
)

func (r *run) count(logger *slog.Logger, entry domain.Entry, err error) {
	stats := &r.out.Stats
	switch {
	case errors.Is(err, errStale):
		stats.Stale++
	case errors.Is(err, errMissingLink):
		stats.MissingLink++
	case errors.Is(err, errSeenInRun), errors.Is(err, domain.ErrDuplicate):
		stats.Duplicates++
	case errors.Is(err, domain.ErrNoContent):
		stats.Empty++
	case errors.Is(err, domain.ErrClassificationFailed):
		stats.ClassifyFailed++
		logger.Warn("classification failed", "url", entry.Link, "error", err)
		return
	case errors.Is(err, errBelowThreshold):
		stats.BelowThreshold++
	default:
		stats.EntryErrors++
		logger.Warn("entry skipped", "url", entry.Link, "error", err)
		return
	}
	logger.Debug("entry skipped", "url", entry.Link, "reason", err)
}

func (r *run) processEntry(ctx context.Context, logger *slog.Logger, source domain.FeedSource, entry domain.Entry) (item *domain.Item, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			item, err = nil, fmt.Errorf("entry processing panicked: %v", rec)
		}
	}()

	p := r.pipeline
	now := p.clock()

	link := strings.TrimSpace(entry.Link)
	title := strings.TrimSpace(entry.Title)
	declaredAuthor := p.authors.Resolve(entry)
	published := now
	if entry.Published != nil && !entry.Published.IsZero() {
		published = entry.Published.UTC()
	} else if entry.PublishedRaw != "" {
		logger.Debug("unparsed publication date, using fetch time", "url", link, "raw", entry.PublishedRaw)
	}

	if published.Before(now.Add(-RetentionHorizon)) {
		return nil, errStale
	}
	if link == "" {
		if entry.GUID != "" {
			logger.Debug("entry guid is not a link", "guid", entry.GUID, "title", title)
		}
		return nil, errMissingLink
	}
	if _, dup := r.seen[link]; dup {
		return nil, errSeenInRun
	}
	r.seen[link] = struct{}{}

	exists, err := p.repository.ExistsByURL(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicate
	}

	content, err := p.extractor.Extract(ctx, entry)
	if err != nil {
		if errors.Is(err, domain.ErrNoContent) {
			return nil, err
		}
		return nil, fmt.Errorf("extract content: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrNoContent
	}

	verdict, err := p.classifier.Classify(ctx, ports.ClassifyRequest{
		Title:      title,
		Author:     declaredAuthor,
		Content:    content,
		SourceURL:  link,
		Categories: r.categories,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrClassificationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrClassificationFailed, err)
		}
		return nil, err
	}
	if verdict.Score < AdmissionThreshold {
		logger.Debug("below threshold", "url", link, "score", verdict.Score)
		return nil, errBelowThreshold
	}

	category, color := r.resolveCategory(verdict.Category)
	if category == "" && verdict.RawCategory != "" {
		logger.Info("category outside taxonomy, storing uncategorized", "url", link, "raw_category", verdict.RawCategory)
	}
	item = &domain.Item{
		Title:          title,
		URL:            link,
		Content:        content,
		Summary:        verdict.Summary(),
		Author:         FinalAuthor(declaredAuthor, verdict.Author),
		SourceID:       source.ID,
		SourceName:     source.Name,
		PublishedAt:    published,
		IngestedAt:     p.clock().UTC(),
		CategoryName:   category,
		CategoryColor:  color,
		RelevancyScore: verdict.Score,
	}
	if err := p.repository.SaveItem(ctx, item); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("persist item: %w", err)
	}
	return item, nil
}

// resolveCategory maps the classifier's answer onto an active category. Answers
// outside the taxonomy leave the item uncategorized.
func (r *run) resolveCategory(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	for _, cat := range r.categories {
		if strings.EqualFold(cat.Name, name) {
			return cat.Name, cat.Color
		}
	}
	return "", ""
}
