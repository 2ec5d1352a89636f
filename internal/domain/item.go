package domain

import (
	"strings"
	"time"
)

// FeedSource is an external endpoint publishing syndicated entries.
type FeedSource struct {
	ID        int64
	Name      string
	URL       string
	AccessKey string
	Active    bool
}

// Category is one label of the closed taxonomy offered to the classifier.
type Category struct {
	ID          int64
	Name        string
	Description string
	Color       string
	Active      bool
}

// Entry is a raw item reported by a feed before extraction and classification.
type Entry struct {
	GUID        string
	Link        string
	Title       string
	Description string
	Content     string

	// Author candidates, in the order the author chain consults them.
	Author       string
	Authors      []string
	Creator      string
	AuthorDetail string

	Published    *time.Time
	PublishedRaw string
}

// Classification is the structured judgment returned by the classifier.
type Classification struct {
	Highlights  []string
	Category    string
	RawCategory string
	Score       int
	Author      string
}

// Summary renders highlights as the stored narrative summary.
func (c Classification) Summary() string {
	lines := make([]string, 0, len(c.Highlights))
	for _, line := range c.Highlights {
		lines = append(lines, HighlightMarker+line)
	}
	return strings.Join(lines, "\n")
}

// HighlightMarker prefixes every highlight line of a stored summary.
const HighlightMarker = "• "

// Item is a persisted, classified and admitted unit of content.
type Item struct {
	ID             int64
	Title          string
	URL            string
	Content        string
	Summary        string
	Author         string
	SourceID       int64
	SourceName     string
	PublishedAt    time.Time
	IngestedAt     time.Time
	CategoryName   string
	CategoryColor  string
	RelevancyScore int
}
