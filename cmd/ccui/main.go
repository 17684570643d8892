// Command ccui runs Claude Code CLI sessions and streams their decoded
// messages to stdout.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/JSON-OBJECT/claude-code-ui/config"
	"github.com/JSON-OBJECT/claude-code-ui/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI is the root command model.
type CLI struct {
	ConfigFile string `name:"config" short:"c" type:"path" help:"Config file to load instead of the default search path"`
	Format     string `short:"f" help:"Output format (ndjson, text); defaults to the config value"`
	Debug      bool   `help:"Enable debug logging"`

	Run      RunCmd      `cmd:"" help:"Start a new conversation"`
	Resume   ResumeCmd   `cmd:"" help:"Resume a conversation by id"`
	Continue ContinueCmd `cmd:"" help:"Continue the most recent conversation in the working directory"`
	Doctor   DoctorCmd   `cmd:"" help:"Check that the Claude CLI is installed"`
	Sweep    SweepCmd    `cmd:"" help:"Find and kill orphaned Claude CLI processes"`
	Config   ConfigCmd   `cmd:"" help:"Show or create the configuration file"`
	Logs     LogsCmd     `cmd:"" help:"Manage log files"`
	Version  VersionCmd  `cmd:"" help:"Print the version"`
}

// Validate is called by kong after parsing.
func (c *CLI) Validate() error {
	switch c.Format {
	case "", config.OutputNDJSON, config.OutputText:
		return nil
	}
	return fmt.Errorf("invalid --format %q (want %s or %s)", c.Format, config.OutputNDJSON, config.OutputText)
}

// Globals is shared by every command's Run method.
type Globals struct {
	Config *config.Config
	Format string
	Stdout io.Writer
	Stderr io.Writer
}

// NewGlobals resolves the output format: the flag wins over the config.
func NewGlobals(c *CLI, cfg *config.Config) *Globals {
	format := c.Format
	if format == "" {
		format = cfg.Output
	}
	return &Globals{
		Config: cfg,
		Format: format,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// initLogging points the root logger at the configured file and level.
func initLogging(cfg *config.Config, debug bool) error {
	path := cfg.Log.File
	if path == "" {
		p, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := logger.Init(path); err != nil {
		return err
	}
	if debug {
		logger.SetDebug(true)
		return nil
	}
	return logger.SetLevel(cfg.Log.Level)
}

func main() {
	var c CLI
	ctx := kong.Parse(&c,
		kong.Name("ccui"),
		kong.Description("Run Claude Code CLI sessions and stream their messages as NDJSON or text."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)

	cfg, err := loadConfig(c.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}
	if err := initLogging(cfg, c.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	defer logger.Close()

	if err := ctx.Run(NewGlobals(&c, cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Close()
		os.Exit(1)
	}
}
