package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "FeedScanner/1.0"
	maxFeedBytes     = 10 << 20
)

// StatusError reports a non-successful HTTP response from a source.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s returned HTTP %d", e.URL, e.StatusCode)
}

// Options tune the fetcher.
type Options struct {
	Timeout           time.Duration
	UserAgent         string
	CredentialHeaders []string
	CredentialScheme  string
}

// Fetcher downloads and parses syndication feeds.
type Fetcher struct {
	client  *http.Client
	opts    Options
	logger  *slog.Logger
	newFeed func() *gofeed.Parser
}

var _ ports.FeedFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; a nil client gets one bounded by opts.Timeout.
func NewFetcher(client *http.Client, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if len(opts.CredentialHeaders) == 0 {
		opts.CredentialHeaders = []string{"Authorization", "API-Key"}
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, opts: opts, logger: logger, newFeed: gofeed.NewParser}
}

// Fetch performs a single GET against the source and returns its entries in feed order.
func (f *Fetcher) Fetch(ctx context.Context, source domain.FeedSource) ([]domain.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	f.attachCredential(req, source.AccessKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: source.URL}
	}

	parsed, err := f.newFeed().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]domain.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, toEntry(item))
	}

	f.logger.Debug("feed fetched", "source", source.Name, "entries", len(entries))
	return entries, nil
}

// attachCredential sends the access key under every configured header name in the
// same request, so a source that ignores one convention still sees the other.
func (f *Fetcher) attachCredential(req *http.Request, accessKey string) {
	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return
	}
	value := accessKey
	if scheme := strings.TrimSpace(f.opts.CredentialScheme); scheme != "" {
		value = scheme + " " + accessKey
	}
	for _, header := range f.opts.CredentialHeaders {
		header = strings.TrimSpace(header)
		if header == "" {
			continue
		}
		req.Header.Set(header, value)
	}
}
