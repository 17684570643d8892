package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JSON-OBJECT/claude-code-ui/logger"
)

const (
	// ExitCodeForced is the exit code reported when a process had to be
	// killed because it did not exit in time.
	ExitCodeForced = -1

	// DefaultExitTimeout bounds the wait for the OS process after its
	// output has been drained (or the drain timed out).
	DefaultExitTimeout = 5 * time.Second

	// stderrTailLines is how much stderr is kept for error translation.
	stderrTailLines = 50
)

// Callbacks connect a session to the transport layer. Every callback is
// optional. OnMessage is called once per decoded message, in stream order,
// from a single goroutine per turn.
type Callbacks struct {
	OnMessage  func(Message)
	OnError    func(error)
	OnComplete func(Completion)
}

// Completion describes how a turn ended.
type Completion struct {
	Handle         string        `json:"handle"`
	State          ProcessState  `json:"-"`
	StateName      string        `json:"state"`
	ExitCode       int           `json:"exit_code"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Duration       time.Duration `json:"duration"`
	// Error is a short human-readable failure description; empty on success.
	Error string `json:"error,omitempty"`
	// Stderr is the tail of the process's stderr.
	Stderr string `json:"-"`
}

// Succeeded reports whether the process exited on its own with status 0.
func (c Completion) Succeeded() bool {
	return c.State == StateCompleted && c.ExitCode == 0
}

// Options configure a Manager. Zero values select defaults.
type Options struct {
	ExitTimeout    time.Duration
	Tail           TailPolicy
	StreamLog      bool // mirror raw stdout lines to logger.StreamLogPath
	HeuristicRules []HeuristicRule
	Clock          clock.Clock
	Logger         *zap.Logger
}

// SessionInfo is a snapshot of one live session.
type SessionInfo struct {
	Handle         string    `json:"handle"`
	PID            int       `json:"pid"`
	State          string    `json:"state"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// Turn is one process run within a session.
type Turn struct {
	Handle string
	PID    int

	done       chan struct{}
	completion Completion
}

// Done is closed after OnComplete has returned.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes and returns its completion.
func (t *Turn) Wait() Completion {
	<-t.done
	return t.completion
}

// session is the manager's memory of a handle across turns.
type session struct {
	spec           LaunchSpec // base spec, without resume/continue intent
	callbacks      Callbacks
	conversationID string
	idStep         ResolveStep
}

// Manager runs CLI sessions: it spawns processes through a Registry, pipes
// their output through the reassembler and decoder, and reports messages
// and completions through Callbacks.
type Manager struct {
	opts     Options
	registry *Registry
	stores   *ToolStores
	decoder  *Decoder
	clock    clock.Clock
	log      *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	generated map[string]struct{} // handles minted by NewHandle
	wg        sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = DefaultExitTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("manager")
	}

	stores := NewToolStores()
	var decoderOpts []DecoderOption
	if opts.HeuristicRules != nil {
		decoderOpts = append(decoderOpts, WithHeuristicRules(opts.HeuristicRules))
	}
	return &Manager{
		opts:     opts,
		registry: NewRegistry(stores, opts.Clock, opts.Logger),
		stores:   stores,
		decoder:  NewDecoder(stores, opts.Logger, decoderOpts...),
		clock:    opts.Clock,
		log:      opts.Logger,
		sessions:  make(map[string]*session),
		generated: make(map[string]struct{}),
	}
}

// NewHandle returns a fresh session handle. A generated handle is never
// taken for the conversation id, so follow-ups in a session that reported
// no id fall back to --continue.
func (m *Manager) NewHandle() string {
	handle := uuid.NewString()
	m.mu.Lock()
	m.generated[handle] = struct{}{}
	m.mu.Unlock()
	return handle
}

// Registry exposes the process registry, e.g. to spare its PIDs from an
// orphan sweep.
func (m *Manager) Registry() *Registry { return m.registry }

// Start launches prompt in the session identified by handle. An empty
// handle gets one from NewHandle (see Turn.Handle). Spawn failures are reported
// once through OnError and returned; the session is not created.
func (m *Manager) Start(ctx context.Context, handle, prompt string, spec LaunchSpec, cb Callbacks) (*Turn, error) {
	if handle == "" {
		handle = m.NewHandle()
	}

	ref, err := m.registry.Spawn(handle, prompt, spec)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return nil, err
	}

	base := spec
	base.ResumeID = ""
	base.Continue = false

	m.mu.Lock()
	sess, ok := m.sessions[handle]
	if !ok {
		sess = &session{}
		m.sessions[handle] = sess
	}
	sess.spec = base
	sess.callbacks = cb
	if spec.ResumeID != "" && sess.conversationID == "" {
		sess.conversationID = spec.ResumeID
	}
	m.mu.Unlock()

	turn := &Turn{Handle: handle, PID: ref.PID, done: make(chan struct{})}
	m.wg.Add(1)
	go m.run(ctx, ref, turn, cb)
	return turn, nil
}

// SendFollowUp starts a new turn in an existing session, resuming the
// conversation by its resolved id or, if none was seen, with --continue.
func (m *Manager) SendFollowUp(ctx context.Context, handle, prompt string) (*Turn, error) {
	m.mu.Lock()
	sess, ok := m.sessions[handle]
	var spec LaunchSpec
	var cb Callbacks
	if ok {
		spec = sess.spec
		cb = sess.callbacks
		if sess.conversationID != "" {
			spec.ResumeID = sess.conversationID
		} else {
			spec.Continue = true
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("follow-up for %s: %w", handle, ErrUnknownSession)
	}
	if ref, live := m.registry.Lookup(handle); live && !ref.State().Terminal() {
		return nil, fmt.Errorf("follow-up for %s: %w", handle, ErrSessionRunning)
	}
	return m.Start(ctx, handle, prompt, spec, cb)
}

// Stop kills the session's running process. Reports whether a live process
// was killed.
func (m *Manager) Stop(handle string) bool {
	return m.registry.Kill(handle)
}

// Forget drops the manager's memory of an idle session.
func (m *Manager) Forget(handle string) bool {
	if ref, ok := m.registry.Lookup(handle); ok && !ref.State().Terminal() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[handle]; !ok {
		return false
	}
	delete(m.sessions, handle)
	delete(m.generated, handle)
	m.stores.Remove(handle)
	return true
}

// ConversationID returns the external conversation id resolved for handle.
func (m *Manager) ConversationID(handle string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[handle]
	if !ok || sess.conversationID == "" {
		return "", false
	}
	return sess.conversationID, true
}

// ActiveSessions returns the sessions that currently have a live process,
// sorted by handle.
func (m *Manager) ActiveSessions() []SessionInfo {
	var infos []SessionInfo
	for _, handle := range m.registry.Handles() {
		ref, ok := m.registry.Lookup(handle)
		if !ok {
			continue
		}
		state := ref.State()
		if state.Terminal() {
			continue
		}
		convID, _ := m.ConversationID(handle)
		infos = append(infos, SessionInfo{
			Handle:         handle,
			PID:            ref.PID,
			State:          state.String(),
			ConversationID: convID,
			CreatedAt:      ref.CreatedAt,
			LastActivity:   ref.LastActivity(),
		})
	}
	return infos
}

// Shutdown kills every live session and waits for their turns to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, handle := range m.registry.Handles() {
		if m.registry.Kill(handle) {
			m.log.Info("stopped session on shutdown", zap.String("sessionID", handle))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// run orchestrates one turn: drain stdout and stderr, wait for the drain
// under the soft timeout, wait for the process under the exit timeout, then
// clean up and report completion.
func (m *Manager) run(ctx context.Context, ref *ProcessRef, turn *Turn, cb Callbacks) {
	defer m.wg.Done()
	defer close(turn.done)

	handle := ref.Handle
	log := m.log.With(zap.String("sessionID", handle), zap.Int("pid", ref.PID))
	start := m.clock.Now()

	var mirror io.WriteCloser
	if m.opts.StreamLog {
		f, err := logger.OpenStreamLog(handle)
		if err != nil {
			log.Warn("failed to open stream log", zap.Error(err))
		} else {
			mirror = f
			defer f.Close()
		}
	}

	stderrTail := &lineTail{max: stderrTailLines}
	var g errgroup.Group
	g.Go(func() error {
		return m.pumpStdout(ctx, ref, cb, mirror)
	})
	g.Go(func() error {
		m.drainStderr(ref, stderrTail, log)
		return nil
	})

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	ctxDone := ctx.Done()
	var softTimeout <-chan time.Time
	if ref.Spec.Timeout > 0 {
		t := m.clock.Timer(ref.Spec.Timeout)
		defer t.Stop()
		softTimeout = t.C
	}

	var streamErr error
	pipelineDone := false
waitDrain:
	for {
		select {
		case streamErr = <-drained:
			pipelineDone = true
			break waitDrain
		case <-softTimeout:
			log.Warn("output still open after timeout, waiting for exit",
				zap.Error(&TimeoutError{Handle: handle, Phase: TimeoutStream, After: ref.Spec.Timeout}))
			break waitDrain
		case <-ctxDone:
			ctxDone = nil
			if m.registry.killRef(ref, StateKilled) {
				log.Info("turn cancelled", zap.Error(ctx.Err()))
			}
		}
	}

	exitTimer := m.clock.Timer(m.opts.ExitTimeout)
	select {
	case <-ref.Exited():
	case <-exitTimer.C:
		log.Warn("process did not exit, killing",
			zap.Error(&TimeoutError{Handle: handle, Phase: TimeoutExit, After: m.opts.ExitTimeout}))
		m.registry.killRef(ref, StateTimedOut)
		<-ref.Exited()
	case <-ctxDone:
		m.registry.killRef(ref, StateKilled)
		<-ref.Exited()
	}
	exitTimer.Stop()

	if !pipelineDone && ref.State() == StateCompleted {
		// The process exited on its own; whatever it wrote is still in the
		// pipe and must reach the consumer before the read ends close.
		pipelineDone, streamErr = m.awaitDrain(ctxDone, drained, handle, log)
	}

	// Closing the read ends unblocks readers held open by grandchildren.
	m.registry.cleanupRef(ref)
	if !pipelineDone {
		streamErr = <-drained
	}

	if streamErr != nil {
		var sre *StreamReadError
		if errors.As(streamErr, &sre) && sre.Handle == "" {
			sre.Handle = handle
		}
		log.Error("stream read failed", zap.Error(streamErr))
		if cb.OnError != nil {
			cb.OnError(streamErr)
		}
	}

	completion := m.completion(ref, start, stderrTail.String())
	log.Info("turn finished",
		zap.Stringer("state", completion.State),
		zap.Int("exitCode", completion.ExitCode),
		zap.Duration("duration", completion.Duration))

	turn.completion = completion
	if cb.OnComplete != nil {
		cb.OnComplete(completion)
	}
}

// awaitDrain waits for the pump after a natural exit, bounded by the exit
// timeout in case a grandchild still holds stdout open.
func (m *Manager) awaitDrain(ctxDone <-chan struct{}, drained <-chan error, handle string, log *zap.Logger) (bool, error) {
	t := m.clock.Timer(m.opts.ExitTimeout)
	defer t.Stop()
	select {
	case err := <-drained:
		return true, err
	case <-t.C:
		log.Warn("output still open after exit, closing pipes",
			zap.Error(&TimeoutError{Handle: handle, Phase: TimeoutStream, After: m.opts.ExitTimeout}))
	case <-ctxDone:
	}
	return false, nil
}

func (m *Manager) completion(ref *ProcessRef, start time.Time, stderr string) Completion {
	state := ref.State()
	c := Completion{
		Handle:    ref.Handle,
		State:     state,
		StateName: state.String(),
		ExitCode:  ref.ExitCode(),
		Duration:  m.clock.Since(start),
		Stderr:    stderr,
	}
	c.ConversationID, _ = m.ConversationID(ref.Handle)

	switch {
	case state == StateTimedOut:
		c.ExitCode = ExitCodeForced
		c.Error = "Claude CLI did not exit in time and was stopped."
	case state == StateCompleted && c.ExitCode != 0:
		c.Error = FriendlyMessage(ref.WaitErr(), stderr)
	}
	return c
}

// pumpStdout runs the reassembler and decoder over stdout and delivers
// messages in order.
func (m *Manager) pumpStdout(ctx context.Context, ref *ProcessRef, cb Callbacks, mirror io.Writer) error {
	handle := ref.Handle
	re := &LineReassembler{Tail: m.opts.Tail}

	return ReadLines(ctx, ref.Stdout(), re, func(line Line) {
		ref.Touch()
		if mirror != nil {
			_, _ = io.WriteString(mirror, line.Text+"\n")
		}

		msg := m.decoder.DecodeLine(handle, line)
		if id, step, ok := ResolveSessionID(msg, handle); ok {
			m.recordConversationID(handle, id, step)
		}
		if cb.OnMessage != nil {
			cb.OnMessage(msg)
		}
	})
}

// recordConversationID keeps the best id seen so far. An id reported in the
// dedicated field always wins; weaker sources only fill a gap.
func (m *Manager) recordConversationID(handle, id string, step ResolveStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[handle]
	if !ok {
		return
	}
	if _, gen := m.generated[handle]; gen && step == StepHandle {
		return
	}
	if sess.conversationID == "" || step == StepSessionField || (sess.idStep != StepSessionField && step < sess.idStep) {
		if sess.conversationID != id {
			m.log.Debug("conversation id resolved", zap.String("sessionID", handle),
				zap.String("conversationID", id), zap.Stringer("step", step))
		}
		sess.conversationID = id
		sess.idStep = step
	}
}

// drainStderr reads stderr for diagnostics. It never affects message flow.
func (m *Manager) drainStderr(ref *ProcessRef, tail *lineTail, log *zap.Logger) {
	re := &LineReassembler{}
	err := ReadLines(context.Background(), ref.Stderr(), re, func(line Line) {
		tail.add(line.Text)
		log.Debug("claude stderr", zap.String("line", truncateForLog(line.Text)))
	})
	if err != nil {
		log.Warn("stderr read failed", zap.Error(err))
	}
}

// lineTail keeps the last max lines written to it.
type lineTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
