package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// boilerplate lists elements removed before a page body is turned into text.
var boilerplate = []string{"script", "style", "nav", "header", "footer", "aside", "noscript", "form", "iframe"}

// HTMLToText renders an HTML fragment as plain text with collapsed whitespace.
// Input that does not look like markup is only whitespace-normalized.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseWhitespace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseWhitespace(fragment)
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		writeText(&b, s)
	})
	return collapseWhitespace(b.String())
}

// writeText walks the tree so block elements do not glue adjacent words together.
func writeText(b *strings.Builder, s *goquery.Selection) {
	node := s.Get(0)
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		b.WriteString(node.Data)
		return
	}
	name := goquery.NodeName(s)
	if blockElements[name] {
		b.WriteByte(' ')
	}
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		writeText(b, child)
	})
	if blockElements[name] {
		b.WriteByte(' ')
	}
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "table": true, "blockquote": true,
	"pre": true, "section": true, "article": true,
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes caps s at limit runes; limit <= 0 disables the cap.
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
