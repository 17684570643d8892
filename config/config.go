// Package config loads ccui settings from config.yaml and CCUI_* environment
// variables and turns them into launch specs and manager options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JSON-OBJECT/claude-code-ui/claude"
	"github.com/JSON-OBJECT/claude-code-ui/paths"
)

// EnvPrefix is prepended to every environment override (CCUI_CLAUDE_MODEL, ...).
const EnvPrefix = "CCUI"

// Output formats accepted by the run commands.
const (
	OutputNDJSON = "ndjson"
	OutputText   = "text"
)

// Truncated tail policies.
const (
	TailDecode = "decode"
	TailDrop   = "drop"
)

// Config holds application configuration
type Config struct {
	Output  string        `mapstructure:"output" yaml:"output" json:"output"`
	Claude  ClaudeConfig  `mapstructure:"claude" yaml:"claude" json:"claude"`
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`

	file string
}

// ClaudeConfig holds the defaults for every CLI launch.
type ClaudeConfig struct {
	Binary               string            `mapstructure:"binary" yaml:"binary" json:"binary"`
	Model                string            `mapstructure:"model" yaml:"model,omitempty" json:"model,omitempty"`
	PermissionMode       string            `mapstructure:"permission_mode" yaml:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	PermissionPromptTool string            `mapstructure:"permission_prompt_tool" yaml:"permission_prompt_tool,omitempty" json:"permission_prompt_tool,omitempty"`
	SkipPermissions      bool              `mapstructure:"skip_permissions" yaml:"skip_permissions" json:"skip_permissions"`
	ToolSets             []string          `mapstructure:"tool_sets" yaml:"tool_sets" json:"tool_sets"`
	AllowedTools         []string          `mapstructure:"allowed_tools" yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	MaxTurns             int               `mapstructure:"max_turns" yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	AddDirs              []string          `mapstructure:"add_dirs" yaml:"add_dirs,omitempty" json:"add_dirs,omitempty"`
	Env                  map[string]string `mapstructure:"env" yaml:"env,omitempty" json:"env,omitempty"`
	Debug                bool              `mapstructure:"debug" yaml:"debug,omitempty" json:"debug,omitempty"`
	LogLevel             string            `mapstructure:"log_level" yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// SessionConfig holds process lifecycle settings. Durations use
// time.ParseDuration syntax ("90s", "5m").
type SessionConfig struct {
	Timeout       string `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	ExitTimeout   string `mapstructure:"exit_timeout" yaml:"exit_timeout" json:"exit_timeout"`
	TruncatedTail string `mapstructure:"truncated_tail" yaml:"truncated_tail" json:"truncated_tail"`
	StreamLog     bool   `mapstructure:"stream_log" yaml:"stream_log" json:"stream_log"`
}

// LogConfig controls ccui's own log file.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Output: OutputNDJSON,
		Claude: ClaudeConfig{
			Binary:   claude.DefaultBinary,
			ToolSets: append([]string(nil), claude.DefaultToolSets...),
			Env:      map[string]string{},
		},
		Session: SessionConfig{
			Timeout:       "10m",
			ExitTimeout:   claude.DefaultExitTimeout.String(),
			TruncatedTail: TailDecode,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("output", cfg.Output)
	v.SetDefault("claude.binary", cfg.Claude.Binary)
	v.SetDefault("claude.model", cfg.Claude.Model)
	v.SetDefault("claude.permission_mode", cfg.Claude.PermissionMode)
	v.SetDefault("claude.permission_prompt_tool", cfg.Claude.PermissionPromptTool)
	v.SetDefault("claude.skip_permissions", cfg.Claude.SkipPermissions)
	v.SetDefault("claude.tool_sets", cfg.Claude.ToolSets)
	v.SetDefault("claude.allowed_tools", cfg.Claude.AllowedTools)
	v.SetDefault("claude.max_turns", cfg.Claude.MaxTurns)
	v.SetDefault("claude.add_dirs", cfg.Claude.AddDirs)
	v.SetDefault("claude.debug", cfg.Claude.Debug)
	v.SetDefault("claude.log_level", cfg.Claude.LogLevel)
	v.SetDefault("session.timeout", cfg.Session.Timeout)
	v.SetDefault("session.exit_timeout", cfg.Session.ExitTimeout)
	v.SetDefault("session.truncated_tail", cfg.Session.TruncatedTail)
	v.SetDefault("session.stream_log", cfg.Session.StreamLog)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// Load reads config.yaml from the app config dir, then the current
// directory, and applies CCUI_* environment overrides. A missing file is
// not an error.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	if dir, err := paths.ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Claude.Env == nil {
		cfg.Claude.Env = map[string]string{}
	}
	cfg.file = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file that was read, or "" when defaults and
// environment were used alone.
func (c *Config) File() string {
	return c.file
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	switch c.Output {
	case OutputNDJSON, OutputText:
	default:
		return fmt.Errorf("invalid output %q (want %s or %s)", c.Output, OutputNDJSON, OutputText)
	}
	switch c.Session.TruncatedTail {
	case TailDecode, TailDrop:
	default:
		return fmt.Errorf("invalid session.truncated_tail %q (want %s or %s)", c.Session.TruncatedTail, TailDecode, TailDrop)
	}
	if _, err := parseDuration("session.timeout", c.Session.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("session.exit_timeout", c.Session.ExitTimeout); err != nil {
		return err
	}
	if _, err := claude.ResolveToolSets(c.Claude.ToolSets); err != nil {
		return fmt.Errorf("claude.tool_sets: %w", err)
	}
	if c.Claude.MaxTurns < 0 {
		return fmt.Errorf("claude.max_turns must not be negative, got %d", c.Claude.MaxTurns)
	}
	return nil
}

// parseDuration accepts "" and "0" as no limit.
func parseDuration(key, text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, text, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, text)
	}
	return d, nil
}

// LaunchSpec builds the base launch spec every session starts from.
func (c *Config) LaunchSpec() (claude.LaunchSpec, error) {
	tools, err := claude.ResolveToolSets(c.Claude.ToolSets)
	if err != nil {
		return claude.LaunchSpec{}, err
	}
	timeout, err := parseDuration("session.timeout", c.Session.Timeout)
	if err != nil {
		return claude.LaunchSpec{}, err
	}

	env := make(map[string]string, len(c.Claude.Env))
	for k, v := range c.Claude.Env {
		// viper lowercases map keys read from YAML
		env[strings.ToUpper(k)] = v
	}

	return claude.LaunchSpec{
		Binary:               c.Claude.Binary,
		Model:                c.Claude.Model,
		OutputFormat:         claude.OutputFormatStreamJSON,
		PermissionMode:       c.Claude.PermissionMode,
		PermissionPromptTool: c.Claude.PermissionPromptTool,
		SkipPermissions:      c.Claude.SkipPermissions,
		AllowedTools:         claude.ComposeTools(tools, c.Claude.AllowedTools),
		MaxTurns:             c.Claude.MaxTurns,
		Timeout:              timeout,
		AddDirs:              append([]string(nil), c.Claude.AddDirs...),
		Env:                  env,
		Debug:                c.Claude.Debug,
		LogLevel:             c.Claude.LogLevel,
	}, nil
}

// ManagerOptions returns the lifecycle options for claude.NewManager.
func (c *Config) ManagerOptions() (claude.Options, error) {
	exit, err := parseDuration("session.exit_timeout", c.Session.ExitTimeout)
	if err != nil {
		return claude.Options{}, err
	}
	tail := claude.TailDecode
	if c.Session.TruncatedTail == TailDrop {
		tail = claude.TailDrop
	}
	return claude.Options{
		ExitTimeout: exit,
		Tail:        tail,
		StreamLog:   c.Session.StreamLog,
	}, nil
}

const fileHeader = "# ccui configuration file\n# Environment variables override these values, e.g. CCUI_CLAUDE_MODEL.\n\n"

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append([]byte(fileHeader), data...), nil
}

// Save writes the config to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.file = path
	return nil
}
