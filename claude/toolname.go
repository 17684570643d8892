package claude

import (
	"regexp"
	"strings"
)

const (
	// ExternalToolIDPrefix marks invocation ids issued for external (MCP) tools.
	ExternalToolIDPrefix = "mcp_"
	// ExternalToolNamePrefix is the namespace prefix of external tool names.
	ExternalToolNamePrefix = "mcp__"

	ExternalSearchToolName  = "mcp__search__web_search"
	ExternalBrowserToolName = "mcp__playwright__browser_navigate"
	ExternalToolName        = "MCP tool"
	UnknownToolName         = "unknown"
)

// readOutputPattern matches the "   12→" gutter the Read tool prefixes lines with.
var readOutputPattern = regexp.MustCompile(`(?m)^\s*\d+→`)

// ToolNameQuery is what a resolver gets to work with for one tool result.
type ToolNameQuery struct {
	Handle    string
	ToolUseID string
	Content   string
}

// ToolNameResolver maps a tool result back to the tool that produced it.
type ToolNameResolver interface {
	ResolveToolName(q ToolNameQuery) (string, bool)
}

// CorrelationResolver answers from the session's recorded tool invocations.
type CorrelationResolver struct {
	Stores *ToolStores
}

func (r CorrelationResolver) ResolveToolName(q ToolNameQuery) (string, bool) {
	if r.Stores == nil || q.ToolUseID == "" {
		return "", false
	}
	store, ok := r.Stores.Get(q.Handle)
	if !ok {
		return "", false
	}
	return store.Lookup(q.ToolUseID)
}

// HeuristicRule labels a tool result when Match returns true.
type HeuristicRule struct {
	Name  string
	Match func(q ToolNameQuery) bool
}

// HeuristicClassifier guesses a tool name from the result text. Rules are
// evaluated in order and the first match wins.
type HeuristicClassifier struct {
	Rules []HeuristicRule
}

func (c HeuristicClassifier) ResolveToolName(q ToolNameQuery) (string, bool) {
	for _, rule := range c.Rules {
		if rule.Match(q) {
			return rule.Name, true
		}
	}
	return "", false
}

// DefaultHeuristicRules returns the built-in rule list.
func DefaultHeuristicRules() []HeuristicRule {
	return []HeuristicRule{
		{Name: "Bash", Match: func(q ToolNameQuery) bool {
			return strings.Contains(strings.ToLower(q.Content), "exit code") ||
				strings.Contains(q.Content, "Tool ran without output")
		}},
		{Name: "Read", Match: func(q ToolNameQuery) bool {
			return readOutputPattern.MatchString(q.Content)
		}},
		{Name: "Edit", Match: containsAny("File updated", "edited successfully")},
		{Name: "Write", Match: containsAny("File written", "created successfully")},
		{Name: "Glob", Match: containsAny("files found", "Found")},
		{Name: "Grep", Match: containsAny("matches found")},
		{Name: "TodoWrite", Match: containsAny("Todos have been modified successfully")},
		{Name: ExternalSearchToolName, Match: func(q ToolNameQuery) bool {
			return isExternalToolID(q.ToolUseID) && looksLikeSearchResults(q.Content)
		}},
		{Name: ExternalBrowserToolName, Match: func(q ToolNameQuery) bool {
			return isExternalToolID(q.ToolUseID) && looksLikePageLoad(q.Content)
		}},
		{Name: ExternalToolName, Match: func(q ToolNameQuery) bool {
			return isExternalToolID(q.ToolUseID)
		}},
	}
}

func containsAny(markers ...string) func(ToolNameQuery) bool {
	return func(q ToolNameQuery) bool {
		for _, m := range markers {
			if strings.Contains(q.Content, m) {
				return true
			}
		}
		return false
	}
}

func isExternalToolID(id string) bool {
	return strings.HasPrefix(id, ExternalToolIDPrefix)
}

func looksLikeSearchResults(content string) bool {
	if looksLikePageLoad(content) {
		return false
	}
	lower := strings.ToLower(content)
	hasTitle := strings.Contains(lower, `"title"`) || strings.Contains(lower, "title:")
	hasURL := strings.Contains(lower, `"url"`) || strings.Contains(lower, `"link"`) ||
		strings.Contains(lower, "url:")
	return hasTitle && hasURL
}

func looksLikePageLoad(content string) bool {
	return strings.Contains(strings.ToLower(content), "<html") ||
		strings.Contains(content, "Page URL:") ||
		strings.Contains(content, "Page Title:")
}

// ToolNameChain tries the correlation store first and the heuristic
// classifier second. It always produces a name.
type ToolNameChain struct {
	correlation ToolNameResolver
	heuristic   ToolNameResolver
}

// NewToolNameChain builds the chain over stores. A nil rules slice selects
// DefaultHeuristicRules.
func NewToolNameChain(stores *ToolStores, rules []HeuristicRule) *ToolNameChain {
	if rules == nil {
		rules = DefaultHeuristicRules()
	}
	return &ToolNameChain{
		correlation: CorrelationResolver{Stores: stores},
		heuristic:   HeuristicClassifier{Rules: rules},
	}
}

// Resolve returns the tool name for q and how it was determined.
func (c *ToolNameChain) Resolve(q ToolNameQuery) (string, NameSource) {
	if name, ok := c.correlation.ResolveToolName(q); ok {
		return name, NameFromCorrelation
	}
	if name, ok := c.heuristic.ResolveToolName(q); ok {
		return name, NameFromHeuristic
	}
	return UnknownToolName, NameFromHeuristic
}
