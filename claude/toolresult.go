package claude

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxSearchResults     = 5
	maxSnippetRunes      = 200
	maxExternalToolRunes = 2000
)

// FormatToolResult prepares tool output for display. JSON payloads are
// pretty-printed, search result payloads become a short numbered list, and
// oversized output from external tools is truncated.
func FormatToolResult(toolName, content string) string {
	out := strings.TrimSpace(content)

	if looksLikeJSON(out) {
		var v any
		if err := json.Unmarshal([]byte(out), &v); err == nil {
			if list, ok := formatSearchResults(v); ok {
				out = list
			} else {
				var buf bytes.Buffer
				if err := json.Indent(&buf, []byte(out), "", "  "); err == nil {
					out = buf.String()
				}
			}
		}
	}

	if strings.HasPrefix(toolName, ExternalToolNamePrefix) {
		if n := utf8.RuneCountInString(out); n > maxExternalToolRunes {
			out = string([]rune(out)[:maxExternalToolRunes]) +
				fmt.Sprintf("... [truncated, %d characters total]", n)
		}
	}
	return out
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// formatSearchResults recognizes either a bare array of hits or an object
// with a "results" array, where each hit has a title and a url or link.
func formatSearchResults(v any) (string, bool) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items, _ = t["results"].([]any)
	}
	if len(items) == 0 {
		return "", false
	}

	type hit struct{ title, url, snippet string }
	hits := make([]hit, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return "", false
		}
		h := hit{
			title:   stringField(obj, "title"),
			url:     stringField(obj, "url", "link"),
			snippet: stringField(obj, "snippet", "description", "content"),
		}
		if h.title == "" || h.url == "" {
			return "", false
		}
		hits = append(hits, h)
	}

	var lines []string
	for i, h := range hits[:min(len(hits), maxSearchResults)] {
		entry := fmt.Sprintf("%d. %s\n   %s", i+1, h.title, h.url)
		if h.snippet != "" {
			entry += "\n   " + truncateRunes(h.snippet, maxSnippetRunes)
		}
		lines = append(lines, entry)
	}
	if extra := len(hits) - maxSearchResults; extra > 0 {
		lines = append(lines, fmt.Sprintf("...and %d more", extra))
	}
	return strings.Join(lines, "\n"), true
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// truncateRunes shortens s to at most maxRunes runes including a "..."
// suffix, never splitting a multi-byte character.
func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if maxRunes <= 3 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-3]) + "..."
}

// truncateForLog truncates long strings for log fields.
func truncateForLog(s string) string {
	return truncateRunes(s, 200)
}
