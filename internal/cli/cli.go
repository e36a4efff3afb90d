package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/run"
)

// ExitError is an error carrying the process exit code a failed command
// maps to.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError reports an invalid invocation; those exit with code 2.
func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Run dispatches one command-line invocation. User-facing output goes to
// output; the returned error is nil, an *ExitError with a chosen code, or a
// plain error the entrypoint maps to exit code 1.
func Run(ctx context.Context, output io.Writer, args []string) error {
	if len(args) == 0 {
		printUsage(output)
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "deploy":
		return deployCmd(ctx, output, rest)
	case "resume":
		return resumeCmd(ctx, output, rest)
	case "cancel":
		return cancelCmd(ctx, output, rest)
	case "status":
		return statusCmd(ctx, output, rest)
	case "snapshot":
		return snapshotCmd(ctx, output, rest)
	case "help", "-h", "--help":
		printUsage(output)
		return nil
	default:
		return usageError("unknown command %q; run \"stackforge help\"", cmd)
	}
}

func printUsage(output io.Writer) {
	fmt.Fprint(output, `
Stackforge - a deployment orchestration engine.

Usage:
  stackforge <command> [options]

Commands:
  deploy    Validate a pipeline definition and run it against an environment.
  resume    Continue an interrupted run from its journal.
  cancel    Stop an executing run; in-flight stages drain first.
  status    Show one run, or list all recorded runs.
  snapshot  Manage environment snapshots (create, list, diff, restore,
            delete, pin, unpin, cleanup).
  help      Print this message.

Settings come from STACKFORGE_* environment variables; command flags
override them. Run "stackforge <command> -h" for the command's options.
`)
}

// newFlagSet builds a flag set in the house style: parse errors return
// instead of exiting the process, and all output lands on the command's
// writer.
func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

// parseFlags runs fs over args. done reports a clean help exit.
func parseFlags(fs *flag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, usageError("%s", err)
	}
	return false, nil
}

// settingsFlags registers the flags every command shares, defaulting each
// to its environment-derived value.
func settingsFlags(fs *flag.FlagSet, s *config.Settings) {
	fs.StringVar(&s.StateRoot, "state-root", s.StateRoot, "Directory for run journals, snapshots and blobs.")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&s.LogFormat, "log-format", s.LogFormat, "Log output format. Options: 'text' or 'json'.")
}

// envSettings reads the process settings, mapping failures to usage errors.
func envSettings() (config.Settings, error) {
	s, err := config.SettingsFromEnv()
	if err != nil {
		return config.Settings{}, usageError("%s", err)
	}
	return s, nil
}

// validateSettings normalizes flag-sourced values and finishes the
// settings' own validation.
func validateSettings(s *config.Settings) error {
	s.LogFormat = strings.ToLower(s.LogFormat)
	if s.LogFormat != "text" && s.LogFormat != "json" {
		return usageError("invalid log-format: must be 'text' or 'json'")
	}

	s.LogLevel = strings.ToLower(s.LogLevel)
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	if err := s.Validate(); err != nil {
		return usageError("%s", err)
	}
	return nil
}

// splitList turns a comma separated flag value into trimmed entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// exitForRun maps an executed run that did not succeed to exit code 1, so
// scripts driving the CLI can branch on the outcome.
func exitForRun(r *orchestrator.RunReport) error {
	if r == nil || r.Status == run.Succeeded {
		return nil
	}
	return &ExitError{Code: 1, Message: fmt.Sprintf("run %s %s", r.ID, r.Status)}
}
