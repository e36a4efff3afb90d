package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/stackforge-io/stackforge/internal/app"
)

// statusCmd shows one run's journal-derived report, or lists every recorded
// run when no id is given.
func statusCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge status", output)
	fs.Usage = func() {
		fmt.Fprint(output, `
Usage:
  stackforge status [options] [RUN_ID]

Without a run id, lists all recorded runs.

Options:
`)
		fs.PrintDefaults()
	}
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageError("status takes at most one run id, got %d arguments", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = a.Context(ctx)

	if fs.NArg() == 0 {
		recs, err := a.Orchestrator().Runs(ctx)
		if err != nil {
			return err
		}
		printRunList(output, recs)
		return nil
	}

	rep, err := a.Orchestrator().Status(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	printRunReport(output, rep)
	return nil
}

// resumeCmd continues an interrupted run from its journal. Finished stages
// keep their outcome; stages interrupted mid-flight run again.
func resumeCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge resume", output)
	fs.Usage = func() {
		fmt.Fprint(output, `
Usage:
  stackforge resume [options] RUN_ID

Options:
`)
		fs.PrintDefaults()
	}
	healthPort := fs.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	fs.IntVar(&settings.Concurrency, "concurrency", settings.Concurrency, "Maximum stages executing at once.")
	fs.BoolVar(&settings.RestoreOnFailure, "restore-on-failure", settings.RestoreOnFailure, "Roll back to the pre-deployment snapshot when the run fails.")
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("resume takes exactly one run id, got %d arguments", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()
	a.StartHealthcheck(*healthPort)

	res, err := a.Orchestrator().Resume(a.Context(ctx), fs.Arg(0))
	if err != nil {
		return err
	}

	printDeployResult(output, res)
	return exitForRun(res.Run)
}

// cancelCmd asks an executing run to stop. The run settles once in-flight
// stages have drained; interrupted work is re-queued for a later resume.
func cancelCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge cancel", output)
	fs.Usage = func() {
		fmt.Fprint(output, `
Usage:
  stackforge cancel [options] RUN_ID

Options:
`)
		fs.PrintDefaults()
	}
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("cancel takes exactly one run id, got %d arguments", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	runID := fs.Arg(0)
	if err := a.Orchestrator().Cancel(a.Context(ctx), runID); err != nil {
		return err
	}
	fmt.Fprintf(output, "Run %s asked to stop; in-flight stages drain before it settles.\n", runID)
	return nil
}
