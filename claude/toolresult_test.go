package claude

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFormatToolResult_PlainText(t *testing.T) {
	assert.Equal(t, "exit code 0", FormatToolResult("Bash", "  exit code 0\n"))
}

func TestFormatToolResult_PrettyPrintsJSON(t *testing.T) {
	got := FormatToolResult("Bash", `{"a":1,"b":[true]}`)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": [\n    true\n  ]\n}", got)
}

func TestFormatToolResult_InvalidJSONUntouched(t *testing.T) {
	assert.Equal(t, "{not json", FormatToolResult("Bash", "{not json"))
}

func TestFormatToolResult_SearchList(t *testing.T) {
	content := `{"results":[
		{"title":"Go","url":"https://go.dev","snippet":"The Go programming language"},
		{"title":"Pkg","link":"https://pkg.go.dev"}
	]}`
	got := FormatToolResult(ExternalSearchToolName, content)
	want := "1. Go\n   https://go.dev\n   The Go programming language\n" +
		"2. Pkg\n   https://pkg.go.dev"
	assert.Equal(t, want, got)
}

func TestFormatToolResult_SearchListCapped(t *testing.T) {
	var items []string
	for i := range 8 {
		items = append(items, fmt.Sprintf(`{"title":"T%d","url":"https://x/%d"}`, i, i))
	}
	got := FormatToolResult("WebSearch", "["+strings.Join(items, ",")+"]")

	assert.Contains(t, got, "5. T4")
	assert.NotContains(t, got, "T5")
	assert.True(t, strings.HasSuffix(got, "...and 3 more"), got)
}

func TestFormatToolResult_SnippetTruncatedByRunes(t *testing.T) {
	snippet := strings.Repeat("é", 300)
	got := FormatToolResult("x", `[{"title":"t","url":"u","snippet":"`+snippet+`"}]`)
	lines := strings.Split(got, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	assert.Equal(t, 200, utf8.RuneCountInString(last))
	assert.True(t, strings.HasSuffix(last, "..."))
	assert.True(t, utf8.ValidString(got))
}

func TestFormatToolResult_NotSearchShape(t *testing.T) {
	got := FormatToolResult("x", `[{"title":"only a title"}]`)
	assert.Contains(t, got, "\"title\": \"only a title\"")
}

func TestFormatToolResult_ExternalTruncation(t *testing.T) {
	long := strings.Repeat("日", 2500)
	got := FormatToolResult("mcp__files__read", long)
	assert.True(t, strings.HasSuffix(got, "... [truncated, 2500 characters total]"))
	assert.True(t, strings.HasPrefix(got, strings.Repeat("日", 2000)))
	assert.True(t, utf8.ValidString(got))

	// Built-in tools are never truncated.
	assert.Equal(t, long, FormatToolResult("Read", long))

	// Short external output passes through.
	assert.Equal(t, "ok", FormatToolResult("mcp__files__read", "ok"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", truncateRunes("hello", 10))
	assert.Equal(t, "he...", truncateRunes("hello world", 5))
	assert.Equal(t, "hel", truncateRunes("hello", 3))
	assert.Equal(t, "日本...", truncateRunes("日本語テキスト", 5))
	assert.Equal(t, "anything", truncateRunes("anything", 0))
}
