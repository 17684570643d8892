package claude

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	notFound := &SpawnError{Handle: "h", Binary: "claude", Err: &exec.Error{Name: "claude", Err: exec.ErrNotFound}}
	missingPath := &SpawnError{Handle: "h", Binary: "/opt/claude", Err: &fs.PathError{Op: "stat", Path: "/opt/claude", Err: fs.ErrNotExist}}
	denied := &SpawnError{Handle: "h", Binary: "claude", Err: &fs.PathError{Op: "fork/exec", Path: "claude", Err: fs.ErrPermission}}

	tests := []struct {
		name   string
		err    error
		stderr string
		want   Category
	}{
		{"lookpath miss", notFound, "", CategoryBinaryNotFound},
		{"explicit path missing", missingPath, "", CategoryBinaryNotFound},
		{"shell says not found", nil, "sh: claude: command not found", CategoryBinaryNotFound},
		{"permission error", denied, "", CategoryPermissionDenied},
		{"permission stderr", errors.New("exit status 1"), "EACCES: permission denied, open '/x'", CategoryPermissionDenied},
		{"no conversation", errors.New("exit status 1"), "No conversation found with session ID: abc", CategorySessionExpired},
		{"sentinel", fmt.Errorf("follow-up: %w", ErrNoConversation), "", CategorySessionExpired},
		{"generic", errors.New("exit status 2"), "something broke", CategoryGeneric},
		{"nothing", nil, "", CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.stderr))
		})
	}
}

func TestFriendlyMessage(t *testing.T) {
	assert.Contains(t, FriendlyMessage(nil, "claude: command not found"), "not found")
	assert.Contains(t, FriendlyMessage(nil, "No conversation found"), "expired")

	generic := FriendlyMessage(errors.New("exit status 3"), "boom happened\nstack line 1\nstack line 2")
	assert.Equal(t, "Claude CLI failed: boom happened", generic)

	fromErr := FriendlyMessage(errors.New("pipe broke"), "")
	assert.Equal(t, "Claude CLI failed: pipe broke", fromErr)

	assert.Equal(t, "Claude CLI exited unexpectedly.", FriendlyMessage(nil, "  "))

	long := FriendlyMessage(nil, strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(long), len("Claude CLI failed: ")+200)
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("cause")

	spawn := &SpawnError{Handle: "h1", Binary: "claude", Err: cause}
	assert.ErrorIs(t, spawn, cause)
	assert.Contains(t, spawn.Error(), "h1")

	read := &StreamReadError{Handle: "h2", Err: cause}
	assert.ErrorIs(t, read, cause)
	assert.Contains(t, read.Error(), "h2")
	assert.NotContains(t, (&StreamReadError{Err: cause}).Error(), "session")

	mal := &MalformedLineError{Line: `{"x"`, Err: cause}
	assert.ErrorIs(t, mal, cause)

	soft := &TimeoutError{Handle: "h3", Phase: TimeoutStream, After: time.Second}
	hard := &TimeoutError{Handle: "h3", Phase: TimeoutExit, After: time.Second}
	assert.False(t, soft.Hard())
	assert.True(t, hard.Hard())
	assert.Contains(t, hard.Error(), "exit wait expired after 1s")
}
