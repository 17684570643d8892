package claude

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCLI writes an executable shell script standing in for the claude
// binary and returns its path.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func waitExited(t *testing.T, ref *ProcessRef) {
	t.Helper()
	select {
	case <-ref.Exited():
	case <-time.After(testTimeout):
		t.Fatalf("process %d did not exit", ref.PID)
	}
}

func newTestRegistry() (*Registry, *ToolStores) {
	stores := NewToolStores()
	return NewRegistry(stores, clock.New(), zap.NewNop()), stores
}

func TestRegistry_SpawnNaturalExit(t *testing.T) {
	bin := fakeCLI(t, `echo '{"type":"system","subtype":"init"}'`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)
	assert.Positive(t, ref.PID)
	assert.Equal(t, StateRunning, ref.State())

	out, err := io.ReadAll(ref.Stdout())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"system","subtype":"init"}`+"\n", string(out))

	waitExited(t, ref)
	assert.Equal(t, StateCompleted, ref.State())
	assert.Equal(t, 0, ref.ExitCode())
	assert.NoError(t, ref.WaitErr())

	// Exited processes cannot be killed.
	assert.False(t, r.Kill("s1"))

	assert.True(t, r.Cleanup("s1"))
	assert.False(t, r.Cleanup("s1"))
	_, ok := r.Lookup("s1")
	assert.False(t, ok)
}

func TestRegistry_ExitCode(t *testing.T) {
	bin := fakeCLI(t, `echo "bad things" >&2; exit 3`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)

	stderr, _ := io.ReadAll(ref.Stderr())
	waitExited(t, ref)
	assert.Equal(t, "bad things\n", string(stderr))
	assert.Equal(t, 3, ref.ExitCode())
	assert.Error(t, ref.WaitErr())
	assert.Equal(t, StateCompleted, ref.State())
	r.Cleanup("s1")
}

func TestRegistry_PassesArgsAndEnv(t *testing.T) {
	bin := fakeCLI(t, `printf '%s\n' "$@"; echo "LOG_LEVEL=$LOG_LEVEL"`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "two words", LaunchSpec{Binary: bin, Model: "opus", LogLevel: "trace"})
	require.NoError(t, err)
	defer r.Cleanup("s1")

	out, _ := io.ReadAll(ref.Stdout())
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	assert.Equal(t, []string{
		"--print", "two words", "--output-format", "stream-json", "--verbose",
		"--model", "opus", "LOG_LEVEL=trace",
	}, lines)
}

func TestRegistry_SpawnErrors(t *testing.T) {
	r, _ := newTestRegistry()

	t.Run("not on PATH", func(t *testing.T) {
		_, err := r.Spawn("s1", "hi", LaunchSpec{Binary: "ccui-definitely-not-installed"})
		var se *SpawnError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, CategoryBinaryNotFound, Classify(err, ""))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := r.Spawn("s1", "hi", LaunchSpec{Binary: filepath.Join(t.TempDir(), "claude")})
		var se *SpawnError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, CategoryBinaryNotFound, Classify(err, ""))
	})

	t.Run("not executable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("no exec bit on windows")
		}
		path := filepath.Join(t.TempDir(), "claude")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0644))

		_, err := r.Spawn("s1", "hi", LaunchSpec{Binary: path})
		var se *SpawnError
		require.ErrorAs(t, err, &se)
		assert.ErrorIs(t, err, fs.ErrPermission)
		assert.Equal(t, CategoryPermissionDenied, Classify(err, ""))
	})

	t.Run("bad output format", func(t *testing.T) {
		_, err := r.Spawn("s1", "hi", LaunchSpec{Binary: "sh", OutputFormat: "json"})
		var se *SpawnError
		require.ErrorAs(t, err, &se)
	})

	assert.Zero(t, r.Len(), "failed spawns never register a session")
}

func TestRegistry_SessionRunning(t *testing.T) {
	bin := fakeCLI(t, `sleep 5`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)

	_, err = r.Spawn("s1", "again", LaunchSpec{Binary: bin})
	assert.ErrorIs(t, err, ErrSessionRunning)

	require.True(t, r.Kill("s1"))
	waitExited(t, ref)

	// Once the old process is gone the handle can be reused.
	ref2, err := r.Spawn("s1", "again", LaunchSpec{Binary: fakeCLI(t, `exit 0`)})
	require.NoError(t, err)
	waitExited(t, ref2)

	// A late cleanup for the first process leaves the second alone.
	assert.False(t, r.cleanupRef(ref))
	got, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, ref2, got)
	assert.True(t, r.Cleanup("s1"))
}

func TestRegistry_KillIdempotent(t *testing.T) {
	bin := fakeCLI(t, `sleep 5`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)

	assert.True(t, r.Kill("s1"))
	assert.False(t, r.Kill("s1"))
	assert.False(t, r.Kill("never-existed"))

	waitExited(t, ref)
	assert.Equal(t, StateKilled, ref.State())
	assert.Equal(t, -1, ref.ExitCode())

	assert.True(t, r.Cleanup("s1"))
	assert.False(t, r.Kill("s1"))
}

func TestRegistry_KillUnblocksReader(t *testing.T) {
	// The background sleep inherits stdout, so EOF would never arrive on
	// its own after the shell dies.
	bin := fakeCLI(t, `sleep 3 & echo started; wait`)
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)

	lines := make(chan Line, 4)
	done := make(chan error, 1)
	go func() {
		var re LineReassembler
		done <- ReadLines(context.Background(), ref.Stdout(), &re, func(l Line) { lines <- l })
	}()

	select {
	case l := <-lines:
		assert.Equal(t, "started", l.Text)
	case <-time.After(testTimeout):
		t.Fatal("no output")
	}

	require.True(t, r.Kill("s1"))
	select {
	case err := <-done:
		assert.NoError(t, err, "a killed process ends the read loop normally")
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after kill")
	}
	r.Cleanup("s1")
}

func TestRegistry_CleanupRace(t *testing.T) {
	bin := fakeCLI(t, `sleep 5`)
	r, stores := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)
	stores.For("s1").Record("t1", "Read")

	var cleaned, killed atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r.Cleanup("s1") {
				cleaned.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if r.Kill("s1") {
				killed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), cleaned.Load(), "exactly one cleanup wins")
	assert.LessOrEqual(t, killed.Load(), int32(1))
	waitExited(t, ref)
	assert.Equal(t, StateKilled, ref.State())

	_, ok := stores.Get("s1")
	assert.False(t, ok, "cleanup drops the session's tool store")
	assert.Zero(t, r.Len())
}

func TestRegistry_WorkingDirFallback(t *testing.T) {
	bin := fakeCLI(t, `pwd`)
	log, logs := observedLogger()
	r := NewRegistry(NewToolStores(), clock.New(), log)

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin, WorkingDir: "/definitely/not/here"})
	require.NoError(t, err)
	defer r.Cleanup("s1")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, ref.Spec.WorkingDir)

	out, _ := io.ReadAll(ref.Stdout())
	resolved, _ := filepath.EvalSymlinks(cwd)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	assert.Equal(t, resolved, got)

	assert.Equal(t, 1, logs.FilterMessage("working directory unusable, falling back to current directory").Len())
}

func TestRegistry_WorkingDirUsed(t *testing.T) {
	bin := fakeCLI(t, `pwd`)
	dir := t.TempDir()
	r, _ := newTestRegistry()

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin, WorkingDir: dir})
	require.NoError(t, err)
	defer r.Cleanup("s1")

	out, _ := io.ReadAll(ref.Stdout())
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	assert.Equal(t, want, got)
}

func TestRegistry_HandlesAndPIDs(t *testing.T) {
	bin := fakeCLI(t, `sleep 5`)
	r, _ := newTestRegistry()

	var refs []*ProcessRef
	for _, h := range []string{"charlie", "alpha", "bravo"} {
		ref, err := r.Spawn(h, "hi", LaunchSpec{Binary: bin})
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.Handles())
	assert.Len(t, r.PIDs(), 3)

	r.Kill("alpha")
	assert.Len(t, r.PIDs(), 2, "killed processes are not reported as live")

	for _, ref := range refs {
		r.Cleanup(ref.Handle)
	}
	assert.Empty(t, r.Handles())
}

func TestProcessRef_Touch(t *testing.T) {
	bin := fakeCLI(t, `exit 0`)
	mock := clock.NewMock()
	r := NewRegistry(nil, mock, nil)

	ref, err := r.Spawn("s1", "hi", LaunchSpec{Binary: bin})
	require.NoError(t, err)
	defer r.Cleanup("s1")

	assert.Equal(t, mock.Now(), ref.CreatedAt)
	mock.Add(90 * time.Second)
	ref.Touch()
	assert.Equal(t, ref.CreatedAt.Add(90*time.Second), ref.LastActivity())
}

func TestProcessState_String(t *testing.T) {
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.True(t, StateKilled.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestSettleState(t *testing.T) {
	tests := []struct {
		name     string
		state    ProcessState
		signaled bool
		want     ProcessState
	}{
		{"natural exit", StateRunning, false, StateCompleted},
		{"killed", StateKilled, true, StateKilled},
		{"kill raced natural exit", StateKilled, false, StateCompleted},
		{"timed out", StateTimedOut, true, StateTimedOut},
		{"timed out without signal", StateTimedOut, false, StateTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, settleState(tt.state, tt.signaled))
		})
	}
}

func TestRedactPrompt(t *testing.T) {
	args := []string{"--resume", "x", "--print", "secret prompt", "--verbose"}
	red := redactPrompt(args)
	assert.Equal(t, "<prompt: 13 bytes>", red[3])
	assert.Equal(t, "secret prompt", args[3], "input is not modified")
}
