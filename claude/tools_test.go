package claude

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeTools_Empty(t *testing.T) {
	assert.Empty(t, ComposeTools())
}

func TestComposeTools_Dedup(t *testing.T) {
	// Both sets contain "Read"; it should appear only once, first occurrence wins.
	result := ComposeTools([]string{"Read", "Write"}, []string{"Read", "Bash"})
	assert.Equal(t, []string{"Read", "Write", "Bash"}, result)
}

func TestComposeTools_EmptySets(t *testing.T) {
	result := ComposeTools([]string{}, nil, ToolSetReadOnly)
	assert.Equal(t, ToolSetReadOnly, result)
}

func TestResolveToolSets(t *testing.T) {
	tools, err := ResolveToolSets(DefaultToolSets)
	require.NoError(t, err)
	assert.Equal(t, ComposeTools(ToolSetReadOnly, ToolSetEdit, ToolSetSafeShell), tools)

	tools, err = ResolveToolSets([]string{" Web ", "web"})
	require.NoError(t, err)
	assert.Equal(t, ToolSetWeb, tools)

	_, err = ResolveToolSets([]string{"everything"})
	assert.ErrorContains(t, err, `unknown tool set "everything"`)
}

func TestToolSetNames(t *testing.T) {
	names := ToolSetNames()
	assert.True(t, slices.IsSorted(names))
	assert.Contains(t, names, "safe-shell")
}

func TestToolSets_SafeShell_NoUnrestrictedBash(t *testing.T) {
	assert.NotContains(t, ToolSetSafeShell, "Bash")
	assert.Contains(t, ToolSetShell, "Bash")
}
