package claude

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Tool sets are composable building blocks for --allowedTools lists.
// Callers pick them by name (see ResolveToolSets) rather than the manager
// making policy decisions.

// ToolSetReadOnly contains tools that only inspect files.
var ToolSetReadOnly = []string{
	"Read",
	"Glob",
	"Grep",
}

// ToolSetEdit contains tools that modify files.
var ToolSetEdit = []string{
	"Edit",
	"Write",
	"ExitPlanMode",
}

// ToolSetSafeShell contains read-only shell commands.
var ToolSetSafeShell = []string{
	"Bash(ls:*)",
	"Bash(cat:*)",
	"Bash(head:*)",
	"Bash(tail:*)",
	"Bash(wc:*)",
	"Bash(pwd:*)",
}

// ToolSetShell contains unrestricted Bash. Only for sandboxed environments.
var ToolSetShell = []string{
	"Bash",
}

// ToolSetWeb contains web access tools.
var ToolSetWeb = []string{
	"WebFetch",
	"WebSearch",
}

// ToolSetProductivity contains productivity and notebook tools.
var ToolSetProductivity = []string{
	"TodoWrite",
	"NotebookEdit",
	"Task",
}

// toolSets maps the names accepted in configuration to tool sets.
var toolSets = map[string][]string{
	"readonly":     ToolSetReadOnly,
	"edit":         ToolSetEdit,
	"safe-shell":   ToolSetSafeShell,
	"shell":        ToolSetShell,
	"web":          ToolSetWeb,
	"productivity": ToolSetProductivity,
}

// DefaultToolSets are used when configuration names none.
var DefaultToolSets = []string{"readonly", "edit", "safe-shell"}

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	return lo.Uniq(lo.Flatten(sets))
}

// ToolSetNames returns the names ResolveToolSets accepts, sorted.
func ToolSetNames() []string {
	names := lo.Keys(toolSets)
	sort.Strings(names)
	return names
}

// ResolveToolSets composes the named sets. Names are case-insensitive.
func ResolveToolSets(names []string) ([]string, error) {
	sets := make([][]string, 0, len(names))
	for _, name := range names {
		set, ok := toolSets[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown tool set %q (valid: %s)", name, strings.Join(ToolSetNames(), ", "))
		}
		sets = append(sets, set)
	}
	return ComposeTools(sets...), nil
}
