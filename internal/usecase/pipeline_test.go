package usecase

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedScanner/internal/classifier"
	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

var testNow = time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)

var testCategories = []domain.Category{
	{ID: 1, Name: "Monetary Policy", Color: "#1f77b4", Active: true},
	{ID: 2, Name: "Banking", Color: "#ff7f0e", Active: true},
}

type harness struct {
	repo       *memRepo
	catalog    *fakeCatalog
	fetcher    *fakeFetcher
	classifier *fakeClassifier
	lock       *fakeLock
	deps       PipelineDeps
}

func newHarness(fn classifyFunc) *harness {
	h := &harness{
		repo: newMemRepo(),
		catalog: &fakeCatalog{
			sources:    []domain.FeedSource{{ID: 1, Name: "fed", URL: "https://fed.example/rss", Active: true}},
			categories: testCategories,
		},
		fetcher:    &fakeFetcher{entries: map[string][]domain.Entry{}},
		classifier: &fakeClassifier{fn: fn},
	}
	h.deps = PipelineDeps{
		Catalog:    h.catalog,
		Repository: h.repo,
		Fetcher:    h.fetcher,
		Extractor:  fakeExtractor{},
		Classifier: h.classifier,
		Clock:      func() time.Time { return testNow },
	}
	return h
}

func (h *harness) pipeline() *Pipeline {
	return NewPipeline(h.deps)
}

func (h *harness) feed(url string, entries ...domain.Entry) {
	h.fetcher.entries[url] = entries
}

func entryAt(link string, age time.Duration) domain.Entry {
	published := testNow.Add(-age)
	return domain.Entry{Link: link, Title: "Title " + link, Description: "body of " + link, Published: &published}
}

func TestRunPersistsFreshRelevantEntry(t *testing.T) {
	h := newHarness(scoreAll(82, "Monetary Policy"))
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", 2*time.Hour))

	out := h.pipeline().Run(context.Background())

	require.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, "Processed 1 relevant articles (1 entries seen)", out.String())
	assert.NotEmpty(t, out.RunID)

	items := h.repo.all()
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, "https://fed.example/a", item.URL)
	assert.Equal(t, "Monetary Policy", item.CategoryName)
	assert.Equal(t, "#1f77b4", item.CategoryColor)
	assert.Equal(t, 82, item.RelevancyScore)
	assert.Equal(t, "fed", item.SourceName)
	assert.Equal(t, int64(1), item.SourceID)
	assert.Equal(t, "• fact", item.Summary)
	assert.True(t, item.IngestedAt.Equal(testNow))
	assert.True(t, item.PublishedAt.Equal(testNow.Add(-2*time.Hour)))

	require.Len(t, out.Items, 1)
	assert.Equal(t, item.ID, out.Items[0].ID)

	require.Equal(t, 1, h.classifier.count())
	assert.Equal(t, testCategories, h.classifier.calls[0].Categories)
}

func TestRunSkipsEntriesOlderThanHorizon(t *testing.T) {
	h := newHarness(scoreAll(99, "Banking"))
	h.feed("https://fed.example/rss", entryAt("https://fed.example/old", 30*time.Hour))

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Empty(t, h.repo.all())
	assert.Equal(t, 1, out.Stats.Stale)
	assert.Equal(t, 0, h.classifier.count())
}

func TestRunMissingPublishedFallsBackToNow(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.feed("https://fed.example/rss", domain.Entry{Link: "https://fed.example/x", Title: "x", Description: "body"})

	out := h.pipeline().Run(context.Background())

	require.Equal(t, 1, out.Stats.Persisted)
	assert.True(t, h.repo.all()[0].PublishedAt.Equal(testNow))
}

func TestRunAdmitsOnlyAtOrAboveThreshold(t *testing.T) {
	scores := map[string]int{
		"https://fed.example/74":  74,
		"https://fed.example/75":  75,
		"https://fed.example/100": 100,
		"https://fed.example/0":   0,
	}
	h := newHarness(func(req ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{Category: "Banking", Score: scores[req.SourceURL]}, nil
	})
	h.feed("https://fed.example/rss",
		entryAt("https://fed.example/74", time.Hour),
		entryAt("https://fed.example/75", time.Hour),
		entryAt("https://fed.example/100", time.Hour),
		entryAt("https://fed.example/0", time.Hour),
	)

	out := h.pipeline().Run(context.Background())

	items := h.repo.all()
	require.Len(t, items, 2)
	for _, item := range items {
		assert.GreaterOrEqual(t, item.RelevancyScore, AdmissionThreshold)
	}
	assert.Equal(t, 2, out.Stats.BelowThreshold)
	assert.Equal(t, 4, out.Stats.Seen)
}

func TestRunDeduplicatesWithinAndAcrossSources(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.catalog.sources = []domain.FeedSource{
		{ID: 1, Name: "a", URL: "https://a.example/rss"},
		{ID: 2, Name: "b", URL: "https://b.example/rss"},
	}
	h.feed("https://a.example/rss",
		entryAt("https://news.example/1", time.Hour),
		entryAt("https://news.example/1", time.Hour),
		entryAt("https://news.example/stored", time.Hour),
	)
	h.feed("https://b.example/rss",
		entryAt("https://news.example/1", time.Hour),
		entryAt("https://news.example/2", time.Hour),
	)
	require.NoError(t, h.repo.SaveItem(context.Background(), &domain.Item{
		URL:        "https://news.example/stored",
		IngestedAt: testNow.Add(-time.Hour),
	}))

	out := h.pipeline().Run(context.Background())

	items := h.repo.all()
	urls := make(map[string]int)
	for _, item := range items {
		urls[item.URL]++
	}
	assert.Equal(t, map[string]int{
		"https://news.example/stored": 1,
		"https://news.example/1":      1,
		"https://news.example/2":      1,
	}, urls)
	assert.Equal(t, 3, out.Stats.Duplicates)
	assert.Equal(t, 2, out.Stats.Persisted)
	assert.Equal(t, 2, h.classifier.count())
}

func TestRunTwiceAddsNothingNew(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.feed("https://fed.example/rss",
		entryAt("https://fed.example/a", time.Hour),
		entryAt("https://fed.example/b", time.Hour),
	)
	p := h.pipeline()

	first := p.Run(context.Background())
	second := p.Run(context.Background())

	assert.Equal(t, 2, first.Stats.Persisted)
	assert.Equal(t, 0, second.Stats.Persisted)
	assert.Equal(t, 2, second.Stats.Duplicates)
	assert.Len(t, h.repo.all(), 2)
	assert.Equal(t, 2, h.classifier.count())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunSkipsEntriesWithoutLinkOrContent(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	noLink := entryAt("", time.Hour)
	noBody := entryAt("https://fed.example/empty", time.Hour)
	noBody.Description = ""
	h.feed("https://fed.example/rss", noLink, noBody, entryAt("https://fed.example/ok", time.Hour))

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, 1, out.Stats.MissingLink)
	assert.Equal(t, 1, out.Stats.Empty)
	assert.Equal(t, 1, out.Stats.Persisted)
	assert.Equal(t, 1, h.classifier.count())
}

func TestRunAuthorFallback(t *testing.T) {
	inferred := map[string]string{
		"https://fed.example/anon":    "Jane Doe",
		"https://fed.example/named":   "Someone Else",
		"https://fed.example/unknown": "unknown",
		"https://fed.example/creator": "Model Guess",
	}
	h := newHarness(func(req ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{Category: "Banking", Score: 90, Author: inferred[req.SourceURL]}, nil
	})

	anon := entryAt("https://fed.example/anon", time.Hour)
	named := entryAt("https://fed.example/named", time.Hour)
	named.Author = "John Smith"
	unknown := entryAt("https://fed.example/unknown", time.Hour)
	unknown.Author = "Unknown"
	creator := entryAt("https://fed.example/creator", time.Hour)
	creator.Author = "unknown"
	creator.Creator = "Desk Editor"
	h.feed("https://fed.example/rss", anon, named, unknown, creator)

	h.pipeline().Run(context.Background())

	authors := map[string]string{}
	for _, item := range h.repo.all() {
		authors[item.URL] = item.Author
	}
	assert.Equal(t, "Jane Doe", authors["https://fed.example/anon"])
	assert.Equal(t, "John Smith", authors["https://fed.example/named"])
	assert.Equal(t, "", authors["https://fed.example/unknown"])
	assert.Equal(t, "Desk Editor", authors["https://fed.example/creator"])
	assert.Equal(t, "John Smith", h.classifier.calls[1].Author)
}

func TestRunLeavesUnknownCategoryUncategorized(t *testing.T) {
	h := newHarness(scoreAll(90, "Sports"))
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))

	out := h.pipeline().Run(context.Background())

	require.Equal(t, 1, out.Stats.Persisted)
	assert.Equal(t, 1, out.Stats.Uncategorized)
	item := h.repo.all()[0]
	assert.Empty(t, item.CategoryName)
	assert.Empty(t, item.CategoryColor)
}

func TestRunMatchesCategoryCaseInsensitively(t *testing.T) {
	h := newHarness(scoreAll(90, "banking"))
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))

	h.pipeline().Run(context.Background())

	item := h.repo.all()[0]
	assert.Equal(t, "Banking", item.CategoryName)
	assert.Equal(t, "#ff7f0e", item.CategoryColor)
}

// scriptedCompleter answers by matching a marker in the user prompt.
type scriptedCompleter map[string]string

func (s scriptedCompleter) Complete(_ context.Context, _, user string) (string, error) {
	for marker, answer := range s {
		if strings.Contains(user, marker) {
			return answer, nil
		}
	}
	return "", errBoom
}

func TestRunWithClassifierClient(t *testing.T) {
	h := newHarness(nil)
	h.deps.Classifier = classifier.New(scriptedCompleter{
		"fed.example/garbled": "Sorry, I could not analyze this article.",
		"fed.example/repeat":  `[{"bullets": ["• Fact A", "Fact A", "- fact a", "Fact B"], "category": "Monetary Policy", "relevancy_score": "88", "author": "Jane Doe"}]`,
	}, classifier.Options{}, nil)
	h.feed("https://fed.example/rss",
		entryAt("https://fed.example/garbled", time.Hour),
		entryAt("https://fed.example/repeat", time.Hour),
		entryAt("https://fed.example/offline", time.Hour),
	)

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 2, out.Stats.ClassifyFailed)
	require.Equal(t, 1, out.Stats.Persisted)

	item := h.repo.all()[0]
	assert.Equal(t, "https://fed.example/repeat", item.URL)
	assert.Equal(t, "• Fact A\n• Fact B", item.Summary)
	assert.Equal(t, 1, strings.Count(strings.ToLower(item.Summary), "fact a"))
	assert.Equal(t, "Jane Doe", item.Author)
	assert.Equal(t, 88, item.RelevancyScore)
}

func TestRunNoActiveCategories(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.catalog.categories = nil
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunNoCategories, out.Status)
	assert.Equal(t, "No active categories found", out.String())
	assert.Empty(t, h.fetcher.calls)
}

func TestRunReportsCatalogFailure(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.catalog.sourcesErr = errBoom

	p := h.pipeline()
	out := p.Run(context.Background())

	assert.Equal(t, domain.RunFailed, out.Status)
	assert.True(t, strings.HasPrefix(out.String(), "Error: "), out.String())
	assert.Contains(t, out.String(), "boom")
	assert.False(t, p.Busy())
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.catalog.sources = []domain.FeedSource{
		{ID: 1, Name: "down", URL: "https://down.example/rss"},
		{ID: 2, Name: "broken", URL: "https://broken.example/rss"},
		{ID: 3, Name: "ok", URL: "https://ok.example/rss"},
	}
	h.fetcher.errs = map[string]error{"https://down.example/rss": errBoom}
	h.fetcher.panics = map[string]bool{"https://broken.example/rss": true}
	h.feed("https://ok.example/rss", entryAt("https://ok.example/a", time.Hour))

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 3, out.Stats.Sources)
	assert.Equal(t, 2, out.Stats.SourceErrors)
	assert.Equal(t, 1, out.Stats.Persisted)
}

func TestRunIsolatesEntryFailures(t *testing.T) {
	h := newHarness(func(req ports.ClassifyRequest) (domain.Classification, error) {
		if strings.HasSuffix(req.SourceURL, "/classifier-panic") {
			panic("classifier exploded")
		}
		return domain.Classification{Category: "Banking", Score: 90}, nil
	})
	exploding := entryAt("https://fed.example/extractor-panic", time.Hour)
	exploding.Description = "panic"
	h.feed("https://fed.example/rss",
		exploding,
		entryAt("https://fed.example/classifier-panic", time.Hour),
		entryAt("https://fed.example/ok", time.Hour),
	)

	p := h.pipeline()
	out := p.Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 2, out.Stats.EntryErrors)
	assert.Equal(t, 1, out.Stats.Persisted)
	assert.False(t, p.Busy())
}

func TestRunContinuesAfterPersistenceFailure(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.repo.saveErr = errBoom
	h.feed("https://fed.example/rss",
		entryAt("https://fed.example/a", time.Hour),
		entryAt("https://fed.example/b", time.Hour),
	)

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 2, out.Stats.EntryErrors)
	assert.Equal(t, 2, h.repo.saves)
	assert.Empty(t, h.repo.all())
}

func TestRunSweepsBeforeFetching(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	ctx := context.Background()
	require.NoError(t, h.repo.SaveItem(ctx, &domain.Item{URL: "https://old.example/1", IngestedAt: testNow.Add(-25 * time.Hour)}))
	require.NoError(t, h.repo.SaveItem(ctx, &domain.Item{URL: "https://old.example/2", IngestedAt: testNow.Add(-23 * time.Hour)}))
	h.feed("https://fed.example/rss", entryAt("https://old.example/1", time.Hour))

	out := h.pipeline().Run(ctx)

	assert.EqualValues(t, 1, out.Stats.Swept)
	assert.Equal(t, 1, out.Stats.Persisted)
	for _, item := range h.repo.all() {
		assert.False(t, item.IngestedAt.Before(testNow.Add(-RetentionHorizon)))
	}
}

func TestRunContinuesWhenSweepFails(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.repo.sweepErr = errBoom
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))

	out := h.pipeline().Run(context.Background())

	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 1, out.Stats.Persisted)
}

func TestRunIsSingleFlight(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.fetcher.gate = make(chan struct{})
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))
	p := h.pipeline()

	var (
		wg    sync.WaitGroup
		first domain.Outcome
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = p.Run(context.Background())
	}()

	require.Eventually(t, p.Busy, time.Second, time.Millisecond)

	second := p.Run(context.Background())
	assert.Equal(t, domain.RunBusy, second.Status)
	assert.Equal(t, "Already processing", second.String())

	close(h.fetcher.gate)
	wg.Wait()

	assert.Equal(t, domain.RunCompleted, first.Status)
	assert.Equal(t, 1, first.Stats.Persisted)
	assert.False(t, p.Busy())
}

func TestRunConcurrentTriggersAdmitOne(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.fetcher.gate = make(chan struct{})
	p := h.pipeline()

	const triggers = 8
	outcomes := make(chan domain.Outcome, triggers)
	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- p.Run(context.Background())
		}()
	}

	require.Eventually(t, p.Busy, time.Second, time.Millisecond)
	// every loser returns immediately; the winner waits on the gate
	require.Eventually(t, func() bool { return len(outcomes) == triggers-1 }, time.Second, time.Millisecond)
	close(h.fetcher.gate)
	wg.Wait()
	close(outcomes)

	counts := map[domain.RunStatus]int{}
	for out := range outcomes {
		counts[out.Status]++
	}
	assert.Equal(t, 1, counts[domain.RunCompleted])
	assert.Equal(t, triggers-1, counts[domain.RunBusy])
}

type panickingCatalog struct{}

func (panickingCatalog) ActiveSources(context.Context) ([]domain.FeedSource, error) {
	panic("catalog exploded")
}

func (panickingCatalog) ActiveCategories(context.Context) ([]domain.Category, error) {
	return nil, nil
}

func TestRunReleasesGuardAfterPanic(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.deps.Catalog = panickingCatalog{}
	h.lock = &fakeLock{}
	h.deps.Lock = h.lock
	p := h.pipeline()

	out := p.Run(context.Background())

	assert.Equal(t, domain.RunFailed, out.Status)
	assert.Contains(t, out.Message, "catalog exploded")
	assert.False(t, p.Busy())
	assert.Equal(t, 1, h.lock.unlocked)

	again := p.Run(context.Background())
	assert.Equal(t, domain.RunFailed, again.Status)
}

func TestRunHonorsCrossProcessLock(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.lock = &fakeLock{held: true}
	h.deps.Lock = h.lock
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))
	p := h.pipeline()

	out := p.Run(context.Background())
	assert.Equal(t, domain.RunBusy, out.Status)
	assert.False(t, p.Busy())
	assert.Empty(t, h.fetcher.calls)

	h.lock.held = false
	out = p.Run(context.Background())
	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 1, h.lock.unlocked)
	assert.False(t, h.lock.held)

	h.lock.err = errBoom
	out = p.Run(context.Background())
	assert.Equal(t, domain.RunFailed, out.Status)
}

func TestRunPrefetchKeepsSourceOrder(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.deps.Concurrency = 3
	h.catalog.sources = nil
	for _, name := range []string{"a", "b", "c", "d"} {
		url := "https://" + name + ".example/rss"
		h.catalog.sources = append(h.catalog.sources, domain.FeedSource{Name: name, URL: url})
		h.feed(url,
			entryAt("https://"+name+".example/1", time.Hour),
			entryAt("https://"+name+".example/2", time.Hour),
		)
	}

	out := h.pipeline().Run(context.Background())

	require.Len(t, out.Items, 8)
	var got []string
	for _, item := range out.Items {
		got = append(got, item.URL)
	}
	assert.Equal(t, []string{
		"https://a.example/1", "https://a.example/2",
		"https://b.example/1", "https://b.example/2",
		"https://c.example/1", "https://c.example/2",
		"https://d.example/1", "https://d.example/2",
	}, got)
	assert.Equal(t, 4, out.Stats.Sources)
}

func TestClearAll(t *testing.T) {
	h := newHarness(scoreAll(90, "Banking"))
	h.feed("https://fed.example/rss", entryAt("https://fed.example/a", time.Hour))
	p := h.pipeline()
	p.Run(context.Background())

	removed, err := p.ClearAll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Empty(t, h.repo.all())
}

func TestRunRequiresCollaborators(t *testing.T) {
	p := NewPipeline(PipelineDeps{})
	out := p.Run(context.Background())
	assert.Equal(t, domain.RunFailed, out.Status)
	assert.False(t, p.Busy())
}

func TestRunLogsRawFeedAndVerdictDetails(t *testing.T) {
	h := newHarness(func(ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{Highlights: []string{"fact"}, RawCategory: "Sports", Score: 90}, nil
	})
	var logs bytes.Buffer
	h.deps.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.feed("https://fed.example/rss",
		domain.Entry{Link: "https://fed.example/a", Title: "Undated", Description: "body", PublishedRaw: "sometime last week"},
		domain.Entry{GUID: "tag:fed.example,2024:42", Title: "Linkless", Description: "body"},
	)

	out := h.pipeline().Run(context.Background())

	require.Equal(t, domain.RunCompleted, out.Status)
	assert.Equal(t, 1, out.Stats.Persisted)
	assert.Equal(t, 1, out.Stats.MissingLink)
	items := h.repo.all()
	require.Len(t, items, 1)
	assert.Empty(t, items[0].CategoryName)
	assert.Equal(t, testNow, items[0].PublishedAt)

	text := logs.String()
	assert.Contains(t, text, `raw_category=Sports`)
	assert.Contains(t, text, `raw="sometime last week"`)
	assert.Contains(t, text, `guid=tag:fed.example,2024:42`)
}
