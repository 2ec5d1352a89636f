package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var bulletPrefix = regexp.MustCompile(`^(?:[•·]+\s*|[-*–—]+\s+|\d{1,3}[.)]\s+)`)

// tightPrefix matches markers glued to the first word, as in "-Fact" or "1.Fact".
var tightPrefix = regexp.MustCompile(`^(?:[-*–—]+|\d{1,3}[.)])(\p{L})`)

// quotePairs maps each opening quote to the closing quotes it may pair with.
var quotePairs = map[rune]string{
	'"':  `"`,
	'\'': "'",
	'`':  "`",
	'“':  "”\"",
	'‘':  "’'",
	'«':  "»",
	'„':  "“”",
}

const quoteChars = "\"'`“”‘’«»„"

// NormalizeHighlights strips list markup and enclosing quotes from each line and
// removes duplicates that differ only in case, whitespace or quoting. First
// occurrence wins and keeps its own text.
func NormalizeHighlights(lines []string) []string {
	folder := cases.Fold()
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		text := cleanHighlight(line)
		if text == "" {
			continue
		}
		key := folder.String(dedupKey(text))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, text)
	}
	return out
}

func cleanHighlight(line string) string {
	text := collapse(line)
	for {
		stripped := strings.TrimSpace(bulletPrefix.ReplaceAllString(text, ""))
		stripped = tightPrefix.ReplaceAllString(stripped, "$1")
		stripped = strings.TrimSpace(unquote(stripped))
		if stripped == text {
			return text
		}
		text = stripped
	}
}

// unquote removes one enclosing quote pair; unbalanced quotes are kept.
func unquote(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	closers, ok := quotePairs[first]
	if !ok || len(s) <= size {
		return s
	}
	last, lastSize := utf8.DecodeLastRuneInString(s)
	if !strings.ContainsRune(closers, last) || len(s)-lastSize < size {
		return s
	}
	return s[size : len(s)-lastSize]
}

func dedupKey(text string) string {
	return collapse(strings.Map(func(r rune) rune {
		if strings.ContainsRune(quoteChars, r) {
			return -1
		}
		return r
	}, text))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
