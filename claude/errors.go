package claude

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrSessionRunning is returned when a handle already owns a live process.
	ErrSessionRunning = errors.New("session already has a running process")
	// ErrUnknownSession is returned for handles the manager has never seen.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNoConversation is returned when no conversation id has been observed yet.
	ErrNoConversation = errors.New("no conversation id observed for session")
)

// SpawnError means the CLI process could not be started. The session is
// never created when this is returned.
type SpawnError struct {
	Handle string
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s for session %s: %v", e.Binary, e.Handle, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StreamReadError means an output pipe failed mid-session for a reason other
// than the process going away.
type StreamReadError struct {
	Handle string
	Err    error
}

func (e *StreamReadError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("stream read failed: %v", e.Err)
	}
	return fmt.Sprintf("stream read failed for session %s: %v", e.Handle, e.Err)
}

func (e *StreamReadError) Unwrap() error { return e.Err }

// MalformedLineError describes a line that looked like JSON but did not
// decode. It is only ever logged; the line degrades to a raw message.
type MalformedLineError struct {
	Line string
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed stream line %q: %v", truncateForLog(e.Line), e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }

// TimeoutPhase names which bounded wait expired.
type TimeoutPhase string

const (
	// TimeoutStream is the soft bound on draining stdout. Logged only.
	TimeoutStream TimeoutPhase = "stream"
	// TimeoutExit is the hard bound on process exit. The process is killed.
	TimeoutExit TimeoutPhase = "exit"
)

// TimeoutError reports an expired wait on a session.
type TimeoutError struct {
	Handle string
	Phase  TimeoutPhase
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %s: %s wait expired after %s", e.Handle, e.Phase, e.After)
}

// Hard reports whether the timeout forced the process to be killed.
func (e *TimeoutError) Hard() bool { return e.Phase == TimeoutExit }

// Category groups failures for user-facing messages.
type Category string

const (
	CategoryBinaryNotFound   Category = "binary-not-found"
	CategoryPermissionDenied Category = "permission-denied"
	CategorySessionExpired   Category = "session-expired"
	CategoryGeneric          Category = "generic"
)

// Classify maps an error and whatever the process wrote to stderr onto a
// Category. Either argument may be empty.
func Classify(err error, stderr string) Category {
	lower := strings.ToLower(stderr)

	switch {
	case errors.Is(err, exec.ErrNotFound),
		isSpawnNotExist(err),
		strings.Contains(lower, "command not found"),
		strings.Contains(lower, "executable file not found"):
		return CategoryBinaryNotFound
	case errors.Is(err, fs.ErrPermission),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "eacces"):
		return CategoryPermissionDenied
	case errors.Is(err, ErrNoConversation),
		strings.Contains(lower, "no conversation found"),
		strings.Contains(lower, "session not found"),
		strings.Contains(lower, "session expired"):
		return CategorySessionExpired
	default:
		return CategoryGeneric
	}
}

// isSpawnNotExist catches an explicit binary path that does not exist.
func isSpawnNotExist(err error) bool {
	var se *SpawnError
	return errors.As(err, &se) && errors.Is(err, fs.ErrNotExist)
}

// FriendlyMessage returns a short, human-readable description of a failure.
// Raw internal error text is only surfaced for the generic category, and
// then only its first line.
func FriendlyMessage(err error, stderr string) string {
	switch Classify(err, stderr) {
	case CategoryBinaryNotFound:
		return "Claude CLI not found. Install it and make sure 'claude' is on your PATH."
	case CategoryPermissionDenied:
		return "Permission denied while running Claude CLI. Check the binary and working directory permissions."
	case CategorySessionExpired:
		return "That conversation could not be found. It may have expired; start a new session."
	}

	detail := firstLine(stderr)
	if detail == "" && err != nil {
		detail = firstLine(err.Error())
	}
	if detail == "" {
		return "Claude CLI exited unexpectedly."
	}
	return "Claude CLI failed: " + truncateRunes(detail, 200)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
