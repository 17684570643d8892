package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/JSON-OBJECT/claude-code-ui/cli"
	"github.com/JSON-OBJECT/claude-code-ui/config"
	"github.com/JSON-OBJECT/claude-code-ui/logger"
	"github.com/JSON-OBJECT/claude-code-ui/paths"
	"github.com/JSON-OBJECT/claude-code-ui/process"
)

// writeJSON writes v as one NDJSON line.
func writeJSON(g *Globals, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = g.Stdout.Write(append(data, '\n'))
	return err
}

// DoctorCmd checks prerequisites.
type DoctorCmd struct{}

// Run executes the doctor command.
func (c *DoctorCmd) Run(g *Globals) error {
	results := cli.CheckAll(context.Background(), cli.DefaultPrerequisites(g.Config.Claude.Binary))
	if g.Format == config.OutputNDJSON {
		for _, r := range results {
			if err := writeJSON(g, struct {
				Type string `json:"type"`
				cli.CheckResult
			}{"prerequisite", r}); err != nil {
				return err
			}
		}
	} else {
		fmt.Fprint(g.Stdout, cli.FormatCheckResults(results))
		if f := g.Config.File(); f != "" {
			fmt.Fprintf(g.Stdout, "Config file: %s\n", f)
		}
		if p := logger.Path(); p != "" {
			fmt.Fprintf(g.Stdout, "Log file: %s\n", p)
		}
	}
	return cli.ValidateRequired(results)
}

// SweepCmd kills orphaned Claude processes.
type SweepCmd struct {
	DryRun bool  `help:"List orphans without killing them"`
	Keep   []int `help:"PID to spare (repeatable)"`
}

// Run executes the sweep command.
func (c *SweepCmd) Run(g *Globals) error {
	return c.run(context.Background(), g, process.NewSweeper())
}

func (c *SweepCmd) run(ctx context.Context, g *Globals, s *process.Sweeper) error {
	var (
		procs []process.ClaudeProcess
		err   error
	)
	if c.DryRun {
		procs, err = s.FindOrphans(ctx, c.Keep)
	} else {
		procs, err = s.Sweep(ctx, c.Keep)
	}
	if err != nil {
		return err
	}

	action := "killed"
	if c.DryRun {
		action = "orphan"
	}
	if g.Format == config.OutputNDJSON {
		for _, p := range procs {
			if err := writeJSON(g, struct {
				Type string `json:"type"`
				process.ClaudeProcess
			}{action, p}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range procs {
		fmt.Fprintf(g.Stdout, "%s %d %s\n", action, p.PID, p.Command)
	}
	if len(procs) == 0 {
		fmt.Fprintln(g.Stdout, "No orphaned Claude processes found.")
	}
	return nil
}

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Print the effective configuration"`
	Init ConfigInitCmd `cmd:"" help:"Write a default config.yaml"`
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct{}

// Run executes the config show command.
func (c *ConfigShowCmd) Run(g *Globals) error {
	if g.Format == config.OutputNDJSON {
		return writeJSON(g, struct {
			Type   string         `json:"type"`
			File   string         `json:"file,omitempty"`
			Config *config.Config `json:"config"`
		}{"config", g.Config.File(), g.Config})
	}
	data, err := g.Config.Marshal()
	if err != nil {
		return err
	}
	_, err = g.Stdout.Write(data)
	return err
}

// ConfigInitCmd writes the default configuration file.
type ConfigInitCmd struct {
	Path  string `type:"path" help:"Destination (default: the app config dir)"`
	Force bool   `help:"Overwrite an existing file"`
}

// Run executes the config init command.
func (c *ConfigInitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	if g.Format == config.OutputNDJSON {
		return writeJSON(g, map[string]string{"type": "config_init", "path": path})
	}
	fmt.Fprintf(g.Stdout, "Wrote %s\n", path)
	return nil
}

// LogsCmd groups log subcommands.
type LogsCmd struct {
	Clear LogsClearCmd `cmd:"" help:"Delete the main log and every stream log"`
}

// LogsClearCmd deletes log files.
type LogsClearCmd struct{}

// Run executes the logs clear command.
func (c *LogsClearCmd) Run(g *Globals) error {
	n, err := logger.ClearLogs()
	if err != nil {
		return err
	}
	if g.Format == config.OutputNDJSON {
		return writeJSON(g, map[string]any{"type": "logs_cleared", "count": n})
	}
	fmt.Fprintf(g.Stdout, "Removed %d log file(s).\n", n)
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(g *Globals) error {
	if g.Format == config.OutputNDJSON {
		return writeJSON(g, map[string]string{"type": "version", "version": version, "go": runtime.Version()})
	}
	fmt.Fprintf(g.Stdout, "ccui %s (%s)\n", version, runtime.Version())
	return nil
}
