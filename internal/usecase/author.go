package usecase

import (
	"strings"

	"FeedScanner/internal/domain"
)

// AuthorResolver extracts one author candidate from an entry.
type AuthorResolver func(domain.Entry) string

// AuthorChain tries resolvers in order; the first usable answer wins.
type AuthorChain []AuthorResolver

// DefaultAuthorChain consults the explicit author, the first structured author,
// the dc:creator field and the author detail object, in that order.
func DefaultAuthorChain() AuthorChain {
	return AuthorChain{
		func(e domain.Entry) string { return e.Author },
		func(e domain.Entry) string {
			for _, a := range e.Authors {
				if usableAuthor(a) {
					return a
				}
			}
			return ""
		},
		func(e domain.Entry) string { return e.Creator },
		func(e domain.Entry) string { return e.AuthorDetail },
	}
}

// Resolve returns the first usable candidate, or "" when none qualifies.
func (c AuthorChain) Resolve(entry domain.Entry) string {
	for _, resolve := range c {
		if candidate := strings.TrimSpace(resolve(entry)); usableAuthor(candidate) {
			return candidate
		}
	}
	return ""
}

// FinalAuthor prefers the author declared by the source and falls back to the
// one inferred by the classifier.
func FinalAuthor(declared, inferred string) string {
	for _, candidate := range []string{declared, inferred} {
		if candidate = strings.TrimSpace(candidate); usableAuthor(candidate) {
			return candidate
		}
	}
	return ""
}

func usableAuthor(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "unknown")
}
