package usecase

import (
	"fmt"
	"strings"

	"FeedScanner/internal/domain"
)

// BuildDigest renders the items admitted by a run as a plain text message.
func BuildDigest(out domain.Outcome) string {
	if len(out.Items) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", out.String())
	for _, item := range out.Items {
		category := item.CategoryName
		if category == "" {
			category = "Uncategorized"
		}
		fmt.Fprintf(&b, "- %s\n%s | score %d\n", item.Title, category, item.RelevancyScore)
		if item.Summary != "" {
			b.WriteString(item.Summary)
			b.WriteByte('\n')
		}
		b.WriteString(item.URL)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
