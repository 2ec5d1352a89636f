package classifier

import (
	"fmt"
	"strings"

	"FeedScanner/internal/domain"
)

// DefaultSystemPrompt frames the analyst role; the user prompt carries the entry.
const DefaultSystemPrompt = `You are a research analyst screening news and publications for a central-bank
monitoring desk. Answer with a single JSON object and nothing else.`

const responseSchema = `{"bullets": ["key fact", "..."], "category": "<one of the categories>", "relevancy_score": <integer 0-100>, "author": "<author name or empty>"}`

func buildUserPrompt(title, author, sourceURL, content string, categories []domain.Category) string {
	var b strings.Builder
	b.WriteString("Analyze the article below.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	if author != "" {
		fmt.Fprintf(&b, "Author: %s\n", author)
	}
	if sourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", sourceURL)
	}
	b.WriteString("\nCategories (choose exactly one, spelled as listed):\n")
	for _, cat := range categories {
		if desc := strings.TrimSpace(cat.Description); desc != "" {
			fmt.Fprintf(&b, "- %s: %s\n", cat.Name, desc)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", cat.Name)
	}
	b.WriteString("\nInstructions:\n")
	b.WriteString("1. Summarize the article in 3 to 5 short factual bullet points.\n")
	b.WriteString("2. Pick the single best matching category from the list.\n")
	b.WriteString("3. Rate relevancy to the categories from 0 (unrelated) to 100 (essential reading).\n")
	b.WriteString("4. Report the author if the text names one, otherwise an empty string.\n\n")
	fmt.Fprintf(&b, "Respond with JSON in exactly this shape:\n%s\n\n", responseSchema)
	b.WriteString("Article:\n")
	b.WriteString(content)
	return b.String()
}
