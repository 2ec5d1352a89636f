package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

type memRepo struct {
	mu       sync.Mutex
	items    map[string]domain.Item
	nextID   int64
	saveErr  error
	sweepErr error
	saves    int
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]domain.Item{}}
}

func (m *memRepo) ExistsByURL(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[url]
	return ok, nil
}

func (m *memRepo) SaveItem(_ context.Context, item *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.items[item.URL]; ok {
		return domain.ErrDuplicate
	}
	m.nextID++
	item.ID = m.nextID
	m.items[item.URL] = *item
	return nil
}

func (m *memRepo) DeleteIngestedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepErr != nil {
		return 0, m.sweepErr
	}
	var n int64
	for url, item := range m.items {
		if item.IngestedAt.Before(cutoff) {
			delete(m.items, url)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) DeleteAllItems(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.items))
	m.items = map[string]domain.Item{}
	return n, nil
}

func (m *memRepo) RecentItems(_ context.Context, limit int) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) all() []domain.Item {
	items, _ := m.RecentItems(context.Background(), 0)
	return items
}

type fakeCatalog struct {
	sources       []domain.FeedSource
	categories    []domain.Category
	sourcesErr    error
	categoriesErr error
}

func (f *fakeCatalog) ActiveSources(context.Context) ([]domain.FeedSource, error) {
	return f.sources, f.sourcesErr
}

func (f *fakeCatalog) ActiveCategories(context.Context) ([]domain.Category, error) {
	return f.categories, f.categoriesErr
}

type fakeFetcher struct {
	mu      sync.Mutex
	entries map[string][]domain.Entry
	errs    map[string]error
	panics  map[string]bool
	gate    chan struct{}
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, source domain.FeedSource) ([]domain.Entry, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls = append(f.calls, source.URL)
	f.mu.Unlock()
	if f.panics[source.URL] {
		panic("feed parser blew up")
	}
	if err := f.errs[source.URL]; err != nil {
		return nil, err
	}
	return f.entries[source.URL], nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, entry domain.Entry) (string, error) {
	if entry.Description == "" {
		return "", domain.ErrNoContent
	}
	if entry.Description == "panic" {
		panic("extractor exploded")
	}
	return entry.Description, nil
}

type classifyFunc func(ports.ClassifyRequest) (domain.Classification, error)

type fakeClassifier struct {
	mu    sync.Mutex
	fn    classifyFunc
	calls []ports.ClassifyRequest
}

func (f *fakeClassifier) Classify(_ context.Context, req ports.ClassifyRequest) (domain.Classification, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeClassifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func scoreAll(score int, category string) classifyFunc {
	return func(ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{Highlights: []string{"fact"}, Category: category, Score: score}, nil
	}
}

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	digests []string
	err     error
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return n.err
}

var errBoom = errors.New("boom")
