// Package cli checks that the external tools ccui drives are installed.
package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/lo"
)

// versionTimeout bounds each "<tool> --version" probe.
const versionTimeout = 5 * time.Second

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string `json:"name"`        // Command name or path (e.g., "claude")
	Required    bool   `json:"required"`    // Whether the tool is required to run sessions
	Description string `json:"description"` // Human-readable description
	InstallURL  string `json:"install_url"` // URL for installation instructions
}

// DefaultPrerequisites returns the tools ccui needs. binary overrides the
// Claude executable name; empty means "claude".
func DefaultPrerequisites(binary string) []Prerequisite {
	if binary == "" {
		binary = "claude"
	}
	return []Prerequisite{
		{
			Name:        binary,
			Required:    true,
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite `json:"prerequisite"`
	Found        bool         `json:"found"`
	Path         string       `json:"path,omitempty"`    // Path to the executable if found
	Version      string       `json:"version,omitempty"` // Version string if available
	Error        string       `json:"error,omitempty"`
}

// Check verifies that a CLI tool is available in PATH
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Sprintf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(ctx, path)
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	return lo.Map(prereqs, func(p Prerequisite, _ int) CheckResult {
		return Check(ctx, p)
	})
}

// ValidateRequired returns nil if every required tool in results was found,
// otherwise an error describing what's missing.
func ValidateRequired(results []CheckResult) error {
	missing := lo.FilterMap(results, func(r CheckResult, _ int) (string, bool) {
		if r.Found || !r.Prerequisite.Required {
			return "", false
		}
		return fmt.Sprintf("  - %s (%s)\n    Install: %s",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Prerequisite.InstallURL), true
	})
	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion returns the first line of "<path> --version", or "".
func getVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	version, _, _ := strings.Cut(string(output), "\n")
	version = strings.TrimSpace(version)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found && r.Version != "" {
			fmt.Fprintf(&sb, " (%s)", r.Version)
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
