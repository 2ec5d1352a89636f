package feed

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"FeedScanner/internal/domain"
)

const untitled = "Untitled"

var publishedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toEntry(item *gofeed.Item) domain.Entry {
	entry := domain.Entry{
		GUID:         strings.TrimSpace(item.GUID),
		Link:         resolveLink(item),
		Title:        strings.TrimSpace(item.Title),
		Description:  item.Description,
		Content:      item.Content,
		PublishedRaw: strings.TrimSpace(item.Published),
	}
	if entry.Title == "" {
		entry.Title = untitled
	}

	if item.Author != nil {
		entry.Author = strings.TrimSpace(item.Author.Name)
		entry.AuthorDetail = personLabel(item.Author)
	}
	for _, person := range item.Authors {
		if person == nil {
			continue
		}
		if label := personLabel(person); label != "" {
			entry.Authors = append(entry.Authors, label)
		}
	}
	if item.DublinCoreExt != nil {
		for _, creator := range item.DublinCoreExt.Creator {
			if creator = strings.TrimSpace(creator); creator != "" {
				entry.Creator = creator
				break
			}
		}
	}

	entry.Published = resolvePublished(item)
	return entry
}

func resolveLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func resolvePublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return parsePublished(item.Published)
}

func parsePublished(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func personLabel(p *gofeed.Person) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(p.Email)
}
