package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/stackforge-io/stackforge/internal/app"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/run"
)

// deployOptions is one parsed "stackforge deploy" invocation.
type deployOptions struct {
	settings        config.Settings
	definition      string
	pipeline        string
	environment     string
	stages          []string
	dryRun          bool
	noSnapshot      bool
	healthcheckPort int
}

// parseDeploy processes deploy's arguments. The boolean reports a clean
// early exit, such as printed help.
func parseDeploy(args []string, output io.Writer) (*deployOptions, bool, error) {
	settings, err := envSettings()
	if err != nil {
		return nil, false, err
	}

	fs := newFlagSet("stackforge deploy", output)
	fs.Usage = func() {
		fmt.Fprint(output, `
Usage:
  stackforge deploy [options] DEFINITION

Arguments:
  DEFINITION
    Path to a pipeline definition file or a directory of definition files.

Options:
`)
		fs.PrintDefaults()
	}

	pipeline := fs.String("pipeline", "", "Pipeline to run when the definition declares several.")
	env := fs.String("env", "", "Target environment, overriding the pipeline's own.")
	stages := fs.String("stages", "", "Comma separated stages to run; their dependencies run too.")
	dryRun := fs.Bool("dry-run", false, "Validate and print the plan without executing anything.")
	noSnapshot := fs.Bool("no-snapshot", false, "Skip the automatic pre-deployment snapshot.")
	healthPort := fs.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	onError := fs.String("on-error", string(settings.FailurePolicy), "Failure policy for pipelines that set none. Options: 'fail_fast', 'continue'.")
	fs.IntVar(&settings.Concurrency, "concurrency", settings.Concurrency, "Maximum stages executing at once.")
	fs.BoolVar(&settings.RestoreOnFailure, "restore-on-failure", settings.RestoreOnFailure, "Roll back to the pre-deployment snapshot when the run fails.")
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return nil, done, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, true, nil
	}
	if fs.NArg() > 1 {
		return nil, false, usageError("deploy takes one definition path, got %d", fs.NArg())
	}

	policy, err := run.ParseFailurePolicy(*onError)
	if err != nil {
		return nil, false, usageError("%s", err)
	}
	settings.FailurePolicy = policy

	if err := validateSettings(&settings); err != nil {
		return nil, false, err
	}

	return &deployOptions{
		settings:        settings,
		definition:      fs.Arg(0),
		pipeline:        *pipeline,
		environment:     *env,
		stages:          splitList(*stages),
		dryRun:          *dryRun,
		noSnapshot:      *noSnapshot,
		healthcheckPort: *healthPort,
	}, false, nil
}

// deployCmd runs a pipeline definition end to end and renders the outcome.
func deployCmd(ctx context.Context, output io.Writer, args []string) error {
	opts, done, err := parseDeploy(args, output)
	if done || err != nil {
		return err
	}

	a, err := app.New(ctx, output, &opts.settings)
	if err != nil {
		return err
	}
	defer a.Close()
	a.StartHealthcheck(opts.healthcheckPort)

	res, err := a.Orchestrator().Deploy(a.Context(ctx), orchestrator.DeployOptions{
		DefinitionPath: opts.definition,
		Pipeline:       opts.pipeline,
		Environment:    opts.environment,
		Stages:         opts.stages,
		DryRun:         opts.dryRun,
		SkipSnapshot:   opts.noSnapshot,
	})
	if err != nil {
		return err
	}

	printDeployResult(output, res)
	return exitForRun(res.Run)
}
