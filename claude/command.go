package claude

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	// DefaultBinary is the CLI executable looked up on PATH.
	DefaultBinary = "claude"
	// OutputFormatStreamJSON is the only output format the decoder understands.
	OutputFormatStreamJSON = "stream-json"
)

// LaunchSpec describes one CLI launch. It is built once per process and
// treated as immutable afterwards; copy it to derive a variant.
type LaunchSpec struct {
	Binary               string            // Executable name or path (default "claude")
	Model                string            // --model
	OutputFormat         string            // Always stream-json
	PermissionMode       string            // --permission-mode (e.g. "acceptEdits", "plan")
	PermissionPromptTool string            // --permission-prompt-tool
	SkipPermissions      bool              // --dangerously-skip-permissions
	AllowedTools         []string          // --allowedTools, one flag per tool
	ResumeID             string            // --resume <id>; empty means a new conversation
	Continue             bool              // --continue (ignored when ResumeID is set)
	MaxTurns             int               // --max-turns; 0 means unlimited
	Timeout              time.Duration     // Soft bound on draining stdout; 0 means none
	WorkingDir           string            // Process working directory, also granted via --add-dir
	AddDirs              []string          // Extra --add-dir grants
	Env                  map[string]string // Extra environment variables
	Debug                bool              // Inject DEBUG=1
	LogLevel             string            // Inject LOG_LEVEL when non-empty
}

// Validate reports launch specs the decoder could not consume.
func (s LaunchSpec) Validate() error {
	if s.OutputFormat != "" && s.OutputFormat != OutputFormatStreamJSON {
		return fmt.Errorf("unsupported output format %q (only %s is supported)", s.OutputFormat, OutputFormatStreamJSON)
	}
	if s.MaxTurns < 0 {
		return fmt.Errorf("max turns must not be negative, got %d", s.MaxTurns)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	return nil
}

// BinaryName returns the executable to run.
func (s LaunchSpec) BinaryName() string {
	if s.Binary == "" {
		return DefaultBinary
	}
	return s.Binary
}

// BuildCommandArgs builds the CLI argument vector for prompt under spec.
func BuildCommandArgs(prompt string, spec LaunchSpec) []string {
	var args []string
	switch {
	case spec.ResumeID != "":
		args = append(args, "--resume", spec.ResumeID)
	case spec.Continue:
		args = append(args, "--continue")
	}

	args = append(args,
		"--print", prompt,
		"--output-format", OutputFormatStreamJSON,
		"--verbose",
	)

	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(spec.MaxTurns))
	}

	// --dangerously-skip-permissions and --permission-prompt-tool conflict in
	// Claude CLI, so only one of them is ever passed.
	if spec.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		if spec.PermissionMode != "" {
			args = append(args, "--permission-mode", spec.PermissionMode)
		}
		if spec.PermissionPromptTool != "" {
			args = append(args, "--permission-prompt-tool", spec.PermissionPromptTool)
		}
	}

	for _, tool := range lo.Uniq(spec.AllowedTools) {
		if tool != "" {
			args = append(args, "--allowedTools", tool)
		}
	}

	for _, dir := range grantedDirs(spec) {
		args = append(args, "--add-dir", dir)
	}
	return args
}

// grantedDirs is the working directory followed by the extra directories,
// cleaned and de-duplicated in first-seen order.
func grantedDirs(spec LaunchSpec) []string {
	dirs := append([]string{spec.WorkingDir}, spec.AddDirs...)
	dirs = lo.FilterMap(dirs, func(d string, _ int) (string, bool) {
		if strings.TrimSpace(d) == "" {
			return "", false
		}
		return filepath.Clean(d), true
	})
	return lo.Uniq(dirs)
}

// BuildEnv builds the child environment from environ (normally os.Environ()).
// Variables a login shell would provide are backfilled when missing, the
// debug variables are injected when requested, and spec.Env is appended in
// key order so the result is deterministic.
func BuildEnv(spec LaunchSpec, environ []string) []string {
	env := make([]string, 0, len(environ)+len(spec.Env)+6)
	env = append(env, environ...)

	present := make(map[string]bool, len(environ))
	for _, kv := range environ {
		if k, _, ok := strings.Cut(kv, "="); ok {
			present[k] = true
		}
	}

	for _, kv := range backfillEnv() {
		if !present[kv[0]] && kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}

	if spec.Debug {
		env = append(env, "DEBUG=1")
	}
	if spec.LogLevel != "" {
		env = append(env, "LOG_LEVEL="+spec.LogLevel)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}
	return env
}

// backfillEnv returns fallback values for variables the CLI expects from a
// login shell. Processes started from launchd or systemd often lack them.
func backfillEnv() [][2]string {
	home, _ := os.UserHomeDir()
	user := os.Getenv("LOGNAME")
	if user == "" && home != "" {
		user = filepath.Base(home)
	}
	return [][2]string{
		{"HOME", home},
		{"USER", user},
		{"TERM", "xterm-256color"},
		{"SHELL", "/bin/sh"},
	}
}
