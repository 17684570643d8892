package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JSON-OBJECT/claude-code-ui/claude"
	"github.com/JSON-OBJECT/claude-code-ui/logger"
)

// shutdownTimeout bounds how long an interrupted run waits for its
// processes to be reaped.
const shutdownTimeout = 10 * time.Second

// SessionFlags are shared by run, resume and continue.
type SessionFlags struct {
	Prompt   string   `short:"p" required:"" help:"Prompt for the first turn"`
	FollowUp []string `name:"follow-up" help:"Prompt for a further turn in the same conversation (repeatable)"`
	Dir      string   `short:"d" type:"path" help:"Working directory for the Claude process"`
	Model    string   `short:"m" help:"Model override"`
	MaxTurns int      `help:"Maximum agentic turns per prompt (0 = config value)"`
	Handle   string   `help:"Session handle; generated when empty"`
	Tools    []string `name:"allow-tool" help:"Additional allowed tool (repeatable)"`
}

// spec applies the flags on top of the configured base spec.
func (f SessionFlags) spec(g *Globals) (claude.LaunchSpec, error) {
	spec, err := g.Config.LaunchSpec()
	if err != nil {
		return claude.LaunchSpec{}, err
	}
	if f.Dir != "" {
		spec.WorkingDir = f.Dir
	}
	if f.Model != "" {
		spec.Model = f.Model
	}
	if f.MaxTurns > 0 {
		spec.MaxTurns = f.MaxTurns
	}
	spec.AllowedTools = claude.ComposeTools(spec.AllowedTools, f.Tools)
	return spec, nil
}

// RunCmd starts a new conversation.
type RunCmd struct {
	SessionFlags `embed:""`
}

// Run executes the run command.
func (c *RunCmd) Run(g *Globals) error {
	spec, err := c.spec(g)
	if err != nil {
		return err
	}
	return runSession(g, c.SessionFlags, spec)
}

// ResumeCmd resumes a conversation by its id.
type ResumeCmd struct {
	ID string `arg:"" help:"Conversation id to resume"`

	SessionFlags `embed:""`
}

// Run executes the resume command.
func (c *ResumeCmd) Run(g *Globals) error {
	if !claude.ValidSessionID(c.ID) {
		return fmt.Errorf("invalid conversation id %q", c.ID)
	}
	spec, err := c.spec(g)
	if err != nil {
		return err
	}
	spec.ResumeID = c.ID
	return runSession(g, c.SessionFlags, spec)
}

// ContinueCmd continues the most recent conversation.
type ContinueCmd struct {
	SessionFlags `embed:""`
}

// Run executes the continue command.
func (c *ContinueCmd) Run(g *Globals) error {
	spec, err := c.spec(g)
	if err != nil {
		return err
	}
	spec.Continue = true
	return runSession(g, c.SessionFlags, spec)
}

// runSession drives one session through the first prompt and every
// follow-up, stopping at the first turn that fails.
func runSession(g *Globals, flags SessionFlags, spec claude.LaunchSpec) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := g.Config.ManagerOptions()
	if err != nil {
		return err
	}
	m := claude.NewManager(opts)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := m.Shutdown(sctx); err != nil {
			logger.WithComponent("cli").Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	return driveTurns(ctx, m, NewEmitter(g.Stdout, g.Format), flags.Handle, spec, append([]string{flags.Prompt}, flags.FollowUp...))
}

// driveTurns runs prompts in order within one session.
func driveTurns(ctx context.Context, m *claude.Manager, out *Emitter, handle string, spec claude.LaunchSpec, prompts []string) error {
	if handle == "" {
		handle = m.NewHandle()
	}
	var turn *claude.Turn
	var err error
	for i, prompt := range prompts {
		if i == 0 {
			turn, err = m.Start(ctx, handle, prompt, spec, callbacks(out, handle))
		} else {
			turn, err = m.SendFollowUp(ctx, handle, prompt)
		}
		if err != nil {
			var spawnErr *claude.SpawnError
			if errors.As(err, &spawnErr) {
				// Already reported through OnError.
				return errTurnFailed
			}
			return err
		}

		c := turn.Wait()
		if !c.Succeeded() {
			return errTurnFailed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

var errTurnFailed = errors.New("claude turn failed")

// callbacks wires a session to the emitter.
func callbacks(out *Emitter, handle string) claude.Callbacks {
	return claude.Callbacks{
		OnMessage: func(msg claude.Message) {
			out.Message(handle, msg)
		},
		OnError: func(err error) {
			out.Error(handle, err)
		},
		OnComplete: out.Completion,
	}
}
