// Package process finds and cleans up Claude CLI processes left behind by a
// crashed or killed ccui.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JSON-OBJECT/claude-code-ui/logger"
)

// ErrUnsupported is returned by ListProcesses on platforms without ps.
var ErrUnsupported = errors.New("process listing is not supported on " + runtime.GOOS)

// ClaudeProcess represents a running Claude CLI process found on the system.
type ClaudeProcess struct {
	PID            int    `json:"pid"`
	Command        string `json:"command"`                   // Full command line
	ConversationID string `json:"conversation_id,omitempty"` // Value of --resume, if any
}

// ListFunc returns the candidate processes on the system.
type ListFunc func(ctx context.Context) ([]ClaudeProcess, error)

// KillFunc terminates one process.
type KillFunc func(pid int) error

// ListProcesses lists stream-json Claude CLI processes using ps.
func ListProcesses(ctx context.Context) ([]ClaudeProcess, error) {
	switch runtime.GOOS {
	case "darwin", "linux", "freebsd", "openbsd", "netbsd":
	default:
		return nil, ErrUnsupported
	}
	output, err := exec.CommandContext(ctx, "ps", "-eo", "pid=,args=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps failed: %w", err)
	}
	return parsePS(output), nil
}

// parsePS extracts Claude stream-json processes from "pid args" lines.
func parsePS(output []byte) []ClaudeProcess {
	var processes []ClaudeProcess
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		pidStr, args, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		args = strings.TrimSpace(args)
		if !isClaudeStream(args) {
			continue
		}
		processes = append(processes, ClaudeProcess{
			PID:            pid,
			Command:        args,
			ConversationID: extractConversationID(args),
		})
	}
	return processes
}

// isClaudeStream reports whether cmdLine looks like a CLI run launched by a
// Manager: a claude executable in --print mode with stream-json output.
func isClaudeStream(cmdLine string) bool {
	fields := strings.Fields(cmdLine)
	if len(fields) == 0 {
		return false
	}
	// Node-based installs run as "node /path/to/claude ..."
	isClaude := lo.ContainsBy(fields[:min(2, len(fields))], func(f string) bool {
		return filepath.Base(f) == "claude"
	})
	if !isClaude {
		return false
	}
	return lo.Contains(fields, "--print") && strings.Contains(cmdLine, "stream-json")
}

// extractConversationID returns the value of --resume in cmdLine.
func extractConversationID(cmdLine string) string {
	_, after, ok := strings.Cut(cmdLine, "--resume")
	if !ok {
		return ""
	}
	// Accept both "--resume id" and "--resume=id"
	fields := strings.Fields(strings.TrimLeft(after, " ="))
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// KillProcess kills a process by PID.
func KillProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Sweeper finds and kills orphaned Claude processes.
type Sweeper struct {
	List ListFunc
	Kill KillFunc
	log  *zap.Logger
}

// NewSweeper returns a Sweeper using ps and os.Process.Kill.
func NewSweeper() *Sweeper {
	return &Sweeper{
		List: ListProcesses,
		Kill: KillProcess,
		log:  logger.WithComponent("process"),
	}
}

// FindOrphans returns Claude processes whose PID is not in live. Our own
// PID is never reported.
func (s *Sweeper) FindOrphans(ctx context.Context, live []int) ([]ClaudeProcess, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	keep := lo.SliceToMap(live, func(pid int) (int, struct{}) {
		return pid, struct{}{}
	})
	keep[os.Getpid()] = struct{}{}
	orphans := lo.Filter(all, func(p ClaudeProcess, _ int) bool {
		_, owned := keep[p.PID]
		return !owned
	})
	for _, p := range orphans {
		s.logger().Info("found orphaned Claude process", zap.Int("pid", p.PID), zap.String("conversationID", p.ConversationID))
	}
	s.logger().Debug("found Claude processes", zap.Int("count", len(all)), zap.Int("orphans", len(orphans)))
	return orphans, nil
}

// Sweep kills every orphan and returns the ones that were killed.
// Individual kill failures are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, live []int) ([]ClaudeProcess, error) {
	orphans, err := s.FindOrphans(ctx, live)
	if err != nil {
		return nil, err
	}

	killed := make([]ClaudeProcess, 0, len(orphans))
	for _, p := range orphans {
		if err := ctx.Err(); err != nil {
			return killed, err
		}
		s.logger().Info("killing orphaned Claude process", zap.Int("pid", p.PID))
		if err := s.Kill(p.PID); err != nil {
			s.logger().Error("failed to kill process", zap.Int("pid", p.PID), zap.Error(err))
			continue
		}
		killed = append(killed, p)
	}
	return killed, nil
}

func (s *Sweeper) logger() *zap.Logger {
	if s.log == nil {
		return logger.WithComponent("process")
	}
	return s.log
}
