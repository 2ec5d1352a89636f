package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// verdict is the loosely typed answer of the model before normalization.
type verdict struct {
	Bullets  []string
	Category string
	Score    int
	Author   string
}

type rawVerdict struct {
	Bullets        json.RawMessage `json:"bullets"`
	Highlights     json.RawMessage `json:"highlights"`
	Category       json.RawMessage `json:"category"`
	RelevancyScore json.RawMessage `json:"relevancy_score"`
	Score          json.RawMessage `json:"score"`
	Author         json.RawMessage `json:"author"`
}

// decodeVerdict accepts a bare object, an object wrapped in prose or code fences,
// and an array whose first object element is the answer.
func decodeVerdict(content string) (verdict, error) {
	var out verdict
	object, err := extractObject(content)
	if err != nil {
		return out, err
	}

	var raw rawVerdict
	if err := json.Unmarshal(object, &raw); err != nil {
		return out, fmt.Errorf("decode object: %w (payload snippet: %s)", err, summarizePayloadSnippet(string(object)))
	}

	bullets := raw.Bullets
	if isNull(bullets) {
		bullets = raw.Highlights
	}
	out.Bullets = decodeLines(bullets)
	out.Category = decodeString(raw.Category)
	out.Author = decodeString(raw.Author)

	score := raw.RelevancyScore
	if isNull(score) {
		score = raw.Score
	}
	out.Score = clampScore(decodeNumber(score))
	return out, nil
}

func extractObject(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	payload := []byte(trimmed)
	if !json.Valid(payload) {
		payload = []byte(sanitizeJSONPayload(trimmed))
		if !json.Valid(payload) {
			return nil, fmt.Errorf("no JSON value in payload (payload snippet: %s)", summarizePayloadSnippet(trimmed))
		}
	}

	switch firstByte(payload) {
	case '{':
		return payload, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(payload, &elems); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		for _, elem := range elems {
			if firstByte(elem) == '{' {
				return elem, nil
			}
		}
		return nil, errors.New("array payload holds no object")
	default:
		return nil, fmt.Errorf("payload is not an object (payload snippet: %s)", summarizePayloadSnippet(trimmed))
	}
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeLines accepts a list of strings, a single newline separated string, or
// a list mixing strings with other scalars.
func decodeLines(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		lines := make([]string, 0, len(list))
		for _, elem := range list {
			if s := decodeString(elem); s != "" {
				lines = append(lines, s)
			}
		}
		return lines
	}
	if s := decodeString(raw); s != "" {
		return strings.Split(s, "\n")
	}
	return nil
}

func decodeNumber(raw json.RawMessage) float64 {
	if isNull(raw) {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

func clampScore(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(math.Round(v))
}
