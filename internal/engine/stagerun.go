package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/executor"
	"github.com/stackforge-io/stackforge/internal/fsutil"
)

func nowUTC() time.Time { return time.Now().UTC() }

// executeStage runs one stage end to end: scratch dir, input artifact
// fetch, executor dispatch under the stage's timeout, then artifact
// publication. Any returned error is contained to this stage.
func (e *Engine) executeStage(ctx context.Context, name string) error {
	stage, ok := e.graph.Stage(name)
	if !ok {
		return &StageError{Stage: name, Err: fmt.Errorf("stage %q is not in the graph", name)}
	}
	logger := ctxlog.FromContext(ctx).With("stage", name, "kind", stage.Kind)

	ex, err := e.registry.Lookup(stage.Kind)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}

	workDir := filepath.Join(e.workRoot, name)
	if err := fsutil.EnsureDir(workDir); err != nil {
		return &StageError{Stage: name, Err: fmt.Errorf("creating work dir: %w", err)}
	}

	inputs, err := e.fetchInputs(ctx, name, workDir)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}

	stageCtx := ctx
	cancel := func() {}
	if stage.MaxDuration > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, stage.MaxDuration)
	}
	defer cancel()

	in := &executor.Input{
		Stage:          stage,
		Pipeline:       e.record.Pipeline,
		RunID:          e.record.ID,
		Environment:    e.record.Environment,
		WorkDir:        workDir,
		Artifacts:      e.store.ForConsumer(name),
		EvalCtx:        e.evalContext(name, inputs),
		PackageManager: e.pkg,
		ModulefileRoot: e.modulefileRoot,
		Mirrors:        e.mirrors,
	}

	started := time.Now()
	res, execErr := ex.Execute(stageCtx, in)
	if res != nil && res.Log != "" {
		logPath := filepath.Join(workDir, "stage.log")
		if werr := fsutil.WriteFileAtomic(logPath, []byte(res.Log), 0o644); werr != nil {
			logger.Warn("stage log not persisted", "error", werr)
		}
	}
	if execErr != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &StageError{
				Stage:   name,
				Timeout: true,
				Err:     fmt.Errorf("%w after %s: %v", ErrTimeout, stage.MaxDuration, execErr),
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			// A cancelled run kills in-flight commands, and executors report
			// the kill rather than the context error. Put the cancellation
			// in the chain so the scheduler re-queues the stage for resume.
			return &StageError{Stage: name, Err: fmt.Errorf("%w: %v", context.Canceled, execErr)}
		}
		return &StageError{Stage: name, Err: execErr}
	}
	logger.Debug("executor finished", "duration", time.Since(started).Round(time.Millisecond))

	// A stage that finished its work gets its artifacts registered even if
	// the run was cancelled while it was in flight; succeeded work is kept.
	return e.publish(context.WithoutCancel(ctx), name, res)
}

// fetchInputs copies the payload of every artifact the stage may read into
// workDir/inputs and returns artifact name to local path.
func (e *Engine) fetchInputs(ctx context.Context, name, workDir string) (map[string]string, error) {
	arts := e.store.ForConsumer(name)
	if len(arts) == 0 {
		return nil, nil
	}
	dir := filepath.Join(workDir, "inputs")
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating inputs dir: %w", err)
	}

	local := make(map[string]string, len(arts))
	for _, a := range arts {
		dst := filepath.Join(dir, filepath.Base(a.Name))
		if err := e.fetchOne(ctx, a.Ref, dst); err != nil {
			return nil, fmt.Errorf("fetching artifact %q: %w", a.Name, err)
		}
		local[a.Name] = dst
	}
	return local, nil
}

func (e *Engine) fetchOne(ctx context.Context, ref, dst string) error {
	rc, err := e.blobs.Get(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// evalContext exposes the run coordinates and resolved input artifacts to
// stage argument expressions, e.g. "cat ${artifacts[\"compilers.units\"]}".
func (e *Engine) evalContext(stage string, inputs map[string]string) *hcl.EvalContext {
	artifacts := cty.EmptyObjectVal
	if len(inputs) > 0 {
		m := make(map[string]cty.Value, len(inputs))
		for name, path := range inputs {
			m[name] = cty.StringVal(path)
		}
		artifacts = cty.ObjectVal(m)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"run": cty.ObjectVal(map[string]cty.Value{
				"id":       cty.StringVal(e.record.ID),
				"pipeline": cty.StringVal(e.record.Pipeline),
			}),
			"environment": cty.StringVal(e.record.Environment),
			"stage":       cty.StringVal(stage),
			"artifacts":   artifacts,
		},
	}
}

// publish uploads each produced file and registers it, journaling the
// registration. A duplicate artifact name or an unauthorized registration
// fails this stage only.
func (e *Engine) publish(ctx context.Context, stage string, res *executor.Result) error {
	for _, p := range res.Artifacts {
		key := path.Join("runs", e.record.ID, stage, p.Name)
		if err := e.uploadArtifact(ctx, key, p.Path); err != nil {
			return &StageError{Stage: stage, Err: fmt.Errorf("storing artifact %q: %w", p.Name, err)}
		}
		art, err := e.store.Put(stage, p.Name, key)
		if err != nil {
			return &StageError{Stage: stage, Err: err}
		}
		if err := e.tracker.RecordArtifact(ctx, e.record.ID, art); err != nil {
			return &StageError{Stage: stage, Err: fmt.Errorf("journaling artifact %q: %w", p.Name, err)}
		}
	}
	return nil
}

func (e *Engine) uploadArtifact(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return e.blobs.Put(ctx, key, f, info.Size(), "application/octet-stream")
}
