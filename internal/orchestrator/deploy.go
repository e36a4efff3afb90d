package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/dag"
	"github.com/stackforge-io/stackforge/internal/engine"
	"github.com/stackforge-io/stackforge/internal/run"
	"github.com/stackforge-io/stackforge/internal/snapshot"
	"github.com/stackforge-io/stackforge/internal/state"
)

// DeployOptions selects what to deploy and how.
type DeployOptions struct {
	// DefinitionPath is the pipeline definition file or directory.
	DefinitionPath string

	// Pipeline names the pipeline to run. May stay empty when the
	// definition declares exactly one.
	Pipeline string

	// Environment overrides the pipeline's environment handle.
	Environment string

	// Stages narrows the run to the named stages plus everything they
	// transitively depend on.
	Stages []string

	// DryRun validates the definition and returns the execution plan
	// without running stages or persisting anything.
	DryRun bool

	// SkipSnapshot disables the automatic pre-deployment snapshot.
	SkipSnapshot bool
}

// Deploy executes one pipeline run end to end: definition loading, graph
// validation, pre-deployment snapshot, stage execution, and the final seal
// of the journal. A run that executed returns a nil error even when stages
// failed; the outcome lives in the result's run report.
func (o *Orchestrator) Deploy(ctx context.Context, opts DeployOptions) (*DeployResult, error) {
	logger := ctxlog.FromContext(ctx)

	if opts.DefinitionPath == "" {
		return nil, errors.New("definition path is required")
	}
	// The recorded path must survive a working-directory change between
	// deploy and resume.
	defPath, err := filepath.Abs(opts.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("resolving definition path: %w", err)
	}

	model, err := o.loader.Load(ctx, defPath)
	if err != nil {
		return nil, err
	}
	pipeline, err := selectPipeline(model, opts.Pipeline)
	if err != nil {
		return nil, err
	}
	pipeline, err = dag.FilterPipeline(pipeline, opts.Stages)
	if err != nil {
		return nil, err
	}
	graph, err := dag.Build(pipeline)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Validate(graph); err != nil {
		return nil, err
	}
	env, err := o.resolveEnvironment(opts.Environment, pipeline.Environment)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		logger.Info("dry run, nothing executes",
			"pipeline", pipeline.Name, "environment", env, "stages", graph.Len())
		return &DeployResult{Plan: graph.Layers()}, nil
	}

	release, err := o.locks.Acquire(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("locking environment %q: %w", env, err)
	}
	defer release()

	record := state.RunRecord{
		ID:             uuid.NewString(),
		Pipeline:       pipeline.Name,
		DefinitionPath: defPath,
		Environment:    env,
		Policy:         o.resolvePolicy(pipeline),
		StageFilter:    opts.Stages,
		Status:         run.Running,
		StartedAt:      time.Now().UTC(),
	}

	if !opts.SkipSnapshot {
		snap, err := o.snapshots.Create(ctx, env, snapshot.CreateOptions{
			Description: fmt.Sprintf("before run of pipeline %q", pipeline.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("pre-deployment snapshot: %w", err)
		}
		record.PreSnapshotID = snap.ID
	}

	if err := o.tracker.Begin(ctx, record); err != nil {
		return nil, fmt.Errorf("beginning run %s: %w", record.ID, err)
	}

	logger.Info("deployment run starting",
		"run_id", record.ID, "pipeline", pipeline.Name, "environment", env,
		"stages", graph.Len(), "policy", record.Policy)

	return o.execute(ctx, record, graph, artifact.NewStore(graph), nil)
}

// Resume continues a run that stopped before finishing, typically after a
// crash or a cancel. Stages recorded as running are re-executed; succeeded,
// failed and skipped stages keep their outcome. The definition is re-read
// from the recorded path and must still declare the recorded pipeline.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*DeployResult, error) {
	logger := ctxlog.FromContext(ctx)

	if o.active.Tracked(runID) {
		return nil, fmt.Errorf("run %q is still executing", runID)
	}
	st, err := o.tracker.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec := st.Record
	if rec.Status == run.Succeeded || rec.Status == run.Failed {
		return nil, fmt.Errorf("run %q already finished with status %s", runID, rec.Status)
	}

	model, err := o.loader.Load(ctx, rec.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("reloading definition of run %s: %w", runID, err)
	}
	pipeline, ok := model.Lookup(rec.Pipeline)
	if !ok {
		return nil, fmt.Errorf("definition at %s no longer declares pipeline %q", rec.DefinitionPath, rec.Pipeline)
	}
	pipeline, err = dag.FilterPipeline(pipeline, rec.StageFilter)
	if err != nil {
		return nil, err
	}
	graph, err := dag.Build(pipeline)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Validate(graph); err != nil {
		return nil, err
	}

	store := artifact.NewStore(graph)
	if err := store.Load(st.Artifacts); err != nil {
		return nil, fmt.Errorf("restoring artifacts of run %s: %w", runID, err)
	}
	initial, requeued := state.Recover(st.Stages)

	release, err := o.locks.Acquire(ctx, rec.Environment)
	if err != nil {
		return nil, fmt.Errorf("locking environment %q: %w", rec.Environment, err)
	}
	defer release()

	// The requeue is itself a transition and goes through the journal
	// before the engine sees the stage as ready again.
	now := time.Now().UTC()
	for _, name := range requeued {
		t := state.Transition{
			Stage:  name,
			From:   run.StageRunning,
			To:     run.StageReady,
			At:     now,
			Reason: "requeued on resume",
		}
		if err := o.tracker.RecordTransition(ctx, runID, t); err != nil {
			return nil, fmt.Errorf("journaling requeue of stage %q: %w", name, err)
		}
	}

	logger.Info("resuming run",
		"run_id", runID, "pipeline", rec.Pipeline, "environment", rec.Environment,
		"requeued", requeued)

	rec.Status = run.Running
	return o.execute(ctx, rec, graph, store, initial)
}

// execute drives the engine for a prepared run and seals the journal with
// the outcome. The caller holds the environment lock.
func (o *Orchestrator) execute(ctx context.Context, record state.RunRecord, graph *dag.Graph, store *artifact.Store, initial map[string]run.StageStatus) (*DeployResult, error) {
	logger := ctxlog.FromContext(ctx)

	eng, err := engine.New(engine.Params{
		Graph:          graph,
		Registry:       o.registry,
		Tracker:        o.tracker,
		Artifacts:      store,
		Blobs:          o.blobs,
		PackageManager: o.pkg,
		Record:         record,
		WorkRoot:       filepath.Join(o.settings.WorkRoot(), record.ID),
		ModulefileRoot: o.settings.ModulefileRoot,
		Mirrors:        o.settings.Mirrors,
		Concurrency:    o.settings.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	releaseRun, err := o.active.Track(record.ID, cancel)
	if err != nil {
		return nil, err
	}
	defer releaseRun()

	status, runErr := eng.Run(runCtx, initial)

	// Sealing must reach the journal even when the run context is gone.
	finishCtx := context.WithoutCancel(ctx)
	if err := o.tracker.Finish(finishCtx, record.ID, status, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("sealing run %s: %w", record.ID, err)
	}
	if runErr != nil {
		return nil, runErr
	}

	logger.Info("deployment run finished", "run_id", record.ID, "status", status)

	result := &DeployResult{Plan: graph.Layers()}
	if status == run.Failed && o.settings.RestoreOnFailure && record.PreSnapshotID != "" {
		if err := o.restoreAfterFailure(ctx, record); err != nil {
			logger.Error("rollback to pre-deployment snapshot failed",
				"run_id", record.ID, "snapshot_id", record.PreSnapshotID, "error", err)
		} else {
			result.RestoredTo = record.PreSnapshotID
		}
	}

	st, err := o.tracker.Load(finishCtx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s after completion: %w", record.ID, err)
	}
	result.Run = buildRunReport(st)
	return result, nil
}

func (o *Orchestrator) restoreAfterFailure(ctx context.Context, record state.RunRecord) error {
	ctxlog.FromContext(ctx).Info("run failed, restoring pre-deployment snapshot",
		"run_id", record.ID, "snapshot_id", record.PreSnapshotID)
	_, err := o.snapshots.Restore(ctx, record.Environment, record.PreSnapshotID, false)
	return err
}

func selectPipeline(model *config.Model, name string) (*config.Pipeline, error) {
	if name != "" {
		p, ok := model.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("pipeline %q is not defined", name)
		}
		return p, nil
	}
	if len(model.Pipelines) == 1 {
		return model.Pipelines[0], nil
	}
	names := make([]string, 0, len(model.Pipelines))
	for _, p := range model.Pipelines {
		names = append(names, p.Name)
	}
	return nil, fmt.Errorf("definition declares %d pipelines (%s), name the one to run",
		len(model.Pipelines), strings.Join(names, ", "))
}
