package claude

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ProcessState is the lifecycle state of one CLI process.
type ProcessState int

const (
	StateCreated ProcessState = iota
	StateRunning
	StateCompleted // exited on its own
	StateKilled    // terminated by Kill or context cancellation
	StateTimedOut  // terminated because it did not exit in time
)

func (s ProcessState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s ProcessState) Terminal() bool {
	return s == StateCompleted || s == StateKilled || s == StateTimedOut
}

// ProcessRef is the registry's record of one live (or just finished) CLI
// process.
type ProcessRef struct {
	Handle    string
	PID       int
	Spec      LaunchSpec // effective spec, after working directory fallback
	CreatedAt time.Time

	cmd    *exec.Cmd
	stdout *os.File // read ends, owned by the registry
	stderr *os.File
	clock  clock.Clock

	mu           sync.Mutex
	state        ProcessState
	exitCode     int
	waitErr      error
	lastActivity time.Time

	// exited is closed by the single goroutine that calls cmd.Wait().
	exited      chan struct{}
	releaseOnce sync.Once
}

// Stdout returns the read end of the process's stdout pipe.
func (p *ProcessRef) Stdout() io.Reader { return p.stdout }

// Stderr returns the read end of the process's stderr pipe.
func (p *ProcessRef) Stderr() io.Reader { return p.stderr }

// Exited is closed once the process has been reaped.
func (p *ProcessRef) Exited() <-chan struct{} { return p.exited }

// State returns the current lifecycle state.
func (p *ProcessRef) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code reported by the OS. Only meaningful after
// Exited is closed; -1 when the process was ended by a signal.
func (p *ProcessRef) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// WaitErr returns the error from cmd.Wait, if any.
func (p *ProcessRef) WaitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Touch records activity on the session.
func (p *ProcessRef) Touch() {
	now := p.clock.Now()
	p.mu.Lock()
	p.lastActivity = now
	p.mu.Unlock()
}

// LastActivity returns when output was last seen from the process.
func (p *ProcessRef) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// monitorExit reaps the process. It is the only caller of cmd.Wait.
func (p *ProcessRef) monitorExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	p.exitCode = -1
	signaled := true
	if ps := p.cmd.ProcessState; ps != nil {
		p.exitCode = ps.ExitCode()
		// Windows reports no signal for a killed process.
		if ws, ok := ps.Sys().(interface{ Signaled() bool }); ok && runtime.GOOS != "windows" {
			signaled = ws.Signaled()
		}
	}
	p.state = settleState(p.state, signaled)
	p.mu.Unlock()

	close(p.exited)
}

// settleState picks the terminal state once the process is reaped. Kill
// succeeds on a child that has exited but is not reaped yet, so a kill that
// raced a natural exit is corrected here when no signal ended the process.
func settleState(state ProcessState, signaled bool) ProcessState {
	switch {
	case state == StateRunning:
		return StateCompleted
	case state == StateKilled && !signaled:
		return StateCompleted
	}
	return state
}

// terminate sends SIGKILL and records state as the terminal state. Returns
// false if the process had already reached a terminal state or was already
// gone.
func (p *ProcessRef) terminate(state ProcessState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() {
		return false
	}
	if err := p.cmd.Process.Kill(); err != nil {
		// os.ErrProcessDone: it exited on its own and monitorExit will
		// record Completed.
		return false
	}
	p.state = state
	return true
}

// release closes the registry's pipe read ends. Safe to call any number of
// times from any goroutine; only the first call does anything. Readers
// blocked on the pipes return os.ErrClosed, even if a grandchild still
// holds the write end open.
func (p *ProcessRef) release() {
	p.releaseOnce.Do(func() {
		p.stdout.Close()
		p.stderr.Close()
	})
}

// Registry owns the handle → process mapping. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.Mutex
	procs  map[string]*ProcessRef
	stores *ToolStores
	clock  clock.Clock
	log    *zap.Logger
}

// NewRegistry creates a registry. stores receives per-session cleanup;
// nil clk and log select the wall clock and a no-op logger.
func NewRegistry(stores *ToolStores, clk clock.Clock, log *zap.Logger) *Registry {
	if stores == nil {
		stores = NewToolStores()
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		procs:  make(map[string]*ProcessRef),
		stores: stores,
		clock:  clk,
		log:    log,
	}
}

// Spawn starts the CLI for handle with prompt. The returned ref is Running.
// Errors that prevent the process from starting are *SpawnError; a handle
// that still owns a live process yields ErrSessionRunning.
func (r *Registry) Spawn(handle, prompt string, spec LaunchSpec) (*ProcessRef, error) {
	log := r.log.With(zap.String("sessionID", handle))
	binary := spec.BinaryName()

	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Handle: handle, Binary: binary, Err: err}
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		log.Error("claude binary not usable", zap.String("binary", binary), zap.Error(err))
		return nil, &SpawnError{Handle: handle, Binary: binary, Err: err}
	}

	spec.WorkingDir = r.resolveWorkingDir(spec.WorkingDir, log)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.procs[handle]; ok && !existing.State().Terminal() {
		return nil, fmt.Errorf("spawn %s: %w", handle, ErrSessionRunning)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Handle: handle, Binary: binary, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &SpawnError{Handle: handle, Binary: binary, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	args := BuildCommandArgs(prompt, spec)
	cmd := exec.Command(path, args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = BuildEnv(spec, os.Environ())
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	log.Debug("starting process", zap.String("binary", path), zap.Strings("args", redactPrompt(args)))
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		log.Error("failed to start process", zap.Error(err))
		return nil, &SpawnError{Handle: handle, Binary: binary, Err: err}
	}

	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	now := r.clock.Now()
	ref := &ProcessRef{
		Handle:       handle,
		PID:          cmd.Process.Pid,
		Spec:         spec,
		CreatedAt:    now,
		cmd:          cmd,
		stdout:       stdoutR,
		stderr:       stderrR,
		clock:        r.clock,
		state:        StateRunning,
		lastActivity: now,
		exited:       make(chan struct{}),
	}
	r.procs[handle] = ref
	go ref.monitorExit()

	log.Info("process started", zap.Int("pid", ref.PID))
	return ref, nil
}

// resolveWorkingDir returns dir if it is a readable directory, otherwise
// the current working directory. Empty stays empty (inherit).
func (r *Registry) resolveWorkingDir(dir string, log *zap.Logger) string {
	if dir == "" {
		return ""
	}
	f, err := os.Open(dir)
	if err == nil {
		var info os.FileInfo
		info, err = f.Stat()
		if err == nil && !info.IsDir() {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		if err == nil {
			_, err = f.Readdirnames(1)
			if errors.Is(err, io.EOF) {
				err = nil
			}
		}
		f.Close()
	}
	if err == nil {
		return dir
	}

	cwd, cwdErr := os.Getwd()
	if cwdErr != nil {
		cwd = ""
	}
	log.Warn("working directory unusable, falling back to current directory",
		zap.String("workingDir", dir), zap.String("fallback", cwd), zap.Error(err))
	return cwd
}

// Lookup returns the process registered for handle.
func (r *Registry) Lookup(handle string) (*ProcessRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.procs[handle]
	return ref, ok
}

// Kill forcibly terminates the process for handle. It returns true only when
// this call killed a live process; unknown handles and processes that
// already finished return false. A kill that races a natural exit may
// still return true; the ref then settles as StateCompleted.
func (r *Registry) Kill(handle string) bool {
	ref, ok := r.Lookup(handle)
	if !ok {
		return false
	}
	return r.killRef(ref, StateKilled)
}

func (r *Registry) killRef(ref *ProcessRef, state ProcessState) bool {
	if !ref.terminate(state) {
		return false
	}
	ref.release()
	r.log.Info("process killed", zap.String("sessionID", ref.Handle),
		zap.Int("pid", ref.PID), zap.Stringer("state", state))
	return true
}

// Cleanup removes handle's process and tool store and releases its pipes.
// A process that is still running is killed first. The first call returns
// true; later or concurrent calls are no-ops returning false.
func (r *Registry) Cleanup(handle string) bool {
	ref, ok := r.Lookup(handle)
	if !ok {
		return false
	}
	return r.cleanupRef(ref)
}

// cleanupRef is Cleanup scoped to one process, so a late cleanup from a
// finished turn never removes a newer process spawned under the same handle.
func (r *Registry) cleanupRef(ref *ProcessRef) bool {
	r.killRef(ref, StateKilled)
	ref.release()

	r.mu.Lock()
	current, ok := r.procs[ref.Handle]
	if !ok || current != ref {
		r.mu.Unlock()
		return false
	}
	delete(r.procs, ref.Handle)
	r.mu.Unlock()

	r.stores.Remove(ref.Handle)
	r.log.Debug("session cleaned up", zap.String("sessionID", ref.Handle), zap.Int("pid", ref.PID))
	return true
}

// Handles returns the registered handles in sorted order.
func (r *Registry) Handles() []string {
	r.mu.Lock()
	handles := lo.Keys(r.procs)
	r.mu.Unlock()
	sort.Strings(handles)
	return handles
}

// PIDs returns the process ids of every registered process that has not
// reached a terminal state.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	refs := lo.Values(r.procs)
	r.mu.Unlock()

	pids := lo.FilterMap(refs, func(ref *ProcessRef, _ int) (int, bool) {
		return ref.PID, !ref.State().Terminal()
	})
	sort.Ints(pids)
	return pids
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// redactPrompt replaces the --print argument so prompts never reach the log.
func redactPrompt(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--print" {
			out[i+1] = fmt.Sprintf("<prompt: %d bytes>", len(out[i+1]))
		}
	}
	return out
}
