package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
)

// Script runs shell commands. A stage supplies either a single command or a
// commands list; list entries are independent sub-units executed concurrently
// up to the stage's parallel capacity. Declared outputs become artifacts.
type Script struct{}

func (s *Script) Kind() string { return "script" }

func (s *Script) Execute(ctx context.Context, in *Input) (*Result, error) {
	if err := checkArgs(in, "command", "commands", "env", "work_dir", "outputs"); err != nil {
		return nil, err
	}

	single, hasSingle, err := stringArg(in, "command")
	if err != nil {
		return nil, err
	}
	commands, err := stringListArg(in, "commands")
	if err != nil {
		return nil, err
	}
	switch {
	case hasSingle && len(commands) > 0:
		return nil, errors.New("command and commands are mutually exclusive")
	case hasSingle:
		commands = []string{single}
	case len(commands) == 0:
		return nil, errors.New("script stage needs a command or a commands list")
	}

	workDir, err := stringArgOr(in, "work_dir", in.WorkDir)
	if err != nil {
		return nil, err
	}
	extraEnv, err := stringMapArg(in, "env")
	if err != nil {
		return nil, err
	}
	outputs, err := stringMapArg(in, "outputs")
	if err != nil {
		return nil, err
	}

	env := commandEnv(in, extraEnv)
	logger := ctxlog.FromContext(ctx).With("stage", in.Stage.Name)
	logger.Debug("running script commands",
		"commands", len(commands), "capacity", capacity(in.Stage.Parallel))

	outs := make([][]byte, len(commands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(capacity(in.Stage.Parallel))
	for i, command := range commands {
		g.Go(func() error {
			cmd := exec.CommandContext(gctx, "/bin/sh", "-c", command)
			cmd.Dir = workDir
			cmd.Env = env
			out, err := cmd.CombinedOutput()
			outs[i] = out
			if err != nil {
				return fmt.Errorf("command %q: %w", command, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	var log strings.Builder
	for _, out := range outs {
		log.Write(out)
	}
	result := &Result{Log: log.String()}
	if runErr != nil {
		return result, runErr
	}

	result.Artifacts, err = collectOutputs(workDir, outputs)
	if err != nil {
		return result, err
	}
	return result, nil
}

// commandEnv extends the process environment with the run coordinates and
// the stage's extra variables, extras sorted for a stable command setup.
func commandEnv(in *Input, extra map[string]string) []string {
	env := append(os.Environ(),
		"STACKFORGE_ENVIRONMENT="+in.Environment,
		"STACKFORGE_PIPELINE="+in.Pipeline,
		"STACKFORGE_RUN_ID="+in.RunID,
		"STACKFORGE_STAGE="+in.Stage.Name,
		"STACKFORGE_WORK_DIR="+in.WorkDir,
	)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// collectOutputs resolves declared outputs against the work directory and
// verifies each file exists.
func collectOutputs(workDir string, outputs map[string]string) ([]Produced, error) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var produced []Produced
	for _, name := range names {
		path := outputs[name]
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("declared output %q was not produced: %w", name, err)
		}
		produced = append(produced, Produced{Name: name, Path: path})
	}
	return produced, nil
}
