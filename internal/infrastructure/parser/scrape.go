package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"FeedScanner/internal/domain"
)

const (
	defaultScrapeMinChars = 500
	defaultScrapeMaxChars = 3000
	defaultScrapeTimeout  = 10 * time.Second
	maxPageBytes          = 5 << 20
)

// ScrapeOptions tune when and how a linked page is fetched.
type ScrapeOptions struct {
	MinChars  int
	MaxChars  int
	Timeout   time.Duration
	UserAgent string
}

// ScrapeStrategy fetches the linked page when the feed body is too short.
type ScrapeStrategy struct {
	client    *http.Client
	opts      ScrapeOptions
	converter *md.Converter
	logger    *slog.Logger
}

// NewScrapeStrategy wires an HTTP client; a nil client gets one bounded by opts.Timeout.
func NewScrapeStrategy(client *http.Client, opts ScrapeOptions, logger *slog.Logger) *ScrapeStrategy {
	if opts.MinChars <= 0 {
		opts.MinChars = defaultScrapeMinChars
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultScrapeMaxChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultScrapeTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "FeedScanner/1.0"
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScrapeStrategy{
		client:    client,
		opts:      opts,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// Name returns the registry key.
func (s *ScrapeStrategy) Name() string {
	return "scrape"
}

// Extract returns the inline text when it is long enough, otherwise the scraped page.
// Scrape failures fall back to the inline text.
func (s *ScrapeStrategy) Extract(ctx context.Context, entry domain.Entry) (string, error) {
	inline := inlineText(entry)
	if utf8.RuneCountInString(inline) >= s.opts.MinChars || entry.Link == "" {
		return inline, nil
	}

	page, err := s.scrape(ctx, entry.Link)
	if err != nil {
		s.logger.Debug("scrape failed, using feed body", "link", entry.Link, "error", err)
		return inline, nil
	}
	if strings.TrimSpace(page) == "" {
		return inline, nil
	}
	return page, nil
}

func (s *ScrapeStrategy) scrape(ctx context.Context, link string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	doc, err := s.fetchDocument(ctx, link)
	if err != nil {
		return "", err
	}
	doc.Find(strings.Join(boilerplate, ", ")).Remove()

	body := doc.Find("main").First()
	if body.Length() == 0 {
		body = doc.Find("article").First()
	}
	if body.Length() == 0 {
		body = doc.Find("body")
	}

	markdown := strings.TrimSpace(s.converter.Convert(body))
	return truncateRunes(markdown, s.opts.MaxChars), nil
}

func (s *ScrapeStrategy) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}
