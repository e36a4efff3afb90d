// Package engine dispatches the stages of one deployment run. It owns the
// run's stage status map: every transition is journaled through the state
// tracker before it is applied in memory, readiness is re-derived after each
// completion, and dispatch order among simultaneously ready stages is the
// pipeline's declaration order.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/blob"
	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/dag"
	"github.com/stackforge-io/stackforge/internal/executor"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
	"github.com/stackforge-io/stackforge/internal/run"
	"github.com/stackforge-io/stackforge/internal/state"
)

// Params wires one engine instance to its run.
type Params struct {
	Graph    *dag.Graph
	Registry *executor.Registry
	Tracker  state.Tracker

	// Artifacts is the run's artifact registry; the engine loads it with
	// every artifact a finishing stage produces.
	Artifacts *artifact.Store

	// Blobs stores artifact payloads keyed by runs/<run>/<stage>/<name>.
	Blobs blob.Store

	PackageManager pkgmgr.Manager

	// Record carries the run coordinates (id, pipeline, environment,
	// failure policy) as persisted by the tracker.
	Record state.RunRecord

	// WorkRoot is the scratch directory root; each stage gets a private
	// subdirectory under it.
	WorkRoot string

	ModulefileRoot string
	Mirrors        []string

	// Concurrency bounds how many stages run at once.
	Concurrency int
}

// Engine executes one run to completion. It is single-use.
type Engine struct {
	graph    *dag.Graph
	registry *executor.Registry
	tracker  state.Tracker
	store    *artifact.Store
	blobs    blob.Store
	pkg      pkgmgr.Manager

	record         state.RunRecord
	workRoot       string
	modulefileRoot string
	mirrors        []string
	concurrency    int
}

// New validates the wiring. Every stage kind must have a registered
// executor; a typo fails here, before anything is dispatched.
func New(p Params) (*Engine, error) {
	switch {
	case p.Graph == nil:
		return nil, errors.New("engine: graph is required")
	case p.Registry == nil:
		return nil, errors.New("engine: executor registry is required")
	case p.Tracker == nil:
		return nil, errors.New("engine: state tracker is required")
	case p.Artifacts == nil:
		return nil, errors.New("engine: artifact store is required")
	case p.Blobs == nil:
		return nil, errors.New("engine: blob store is required")
	case p.WorkRoot == "":
		return nil, errors.New("engine: work root is required")
	case p.Concurrency < 1:
		return nil, fmt.Errorf("engine: concurrency must be positive, got %d", p.Concurrency)
	}
	if err := p.Registry.Validate(p.Graph); err != nil {
		return nil, err
	}
	return &Engine{
		graph:          p.Graph,
		registry:       p.Registry,
		tracker:        p.Tracker,
		store:          p.Artifacts,
		blobs:          p.Blobs,
		pkg:            p.PackageManager,
		record:         p.Record,
		workRoot:       p.WorkRoot,
		modulefileRoot: p.ModulefileRoot,
		mirrors:        p.Mirrors,
		concurrency:    p.Concurrency,
	}, nil
}

// stageOutcome is the completion signal a stage goroutine sends back.
type stageOutcome struct {
	stage string
	err   error
}

// Run drives the stage state machine until every stage is settled. The
// initial map carries recovered statuses on resume; absent stages start
// Pending. The returned error is non-nil only for failures that make the
// run unaccountable, such as the journal refusing writes; ordinary stage
// failures are reported through the returned status.
func (e *Engine) Run(ctx context.Context, initial map[string]run.StageStatus) (run.Status, error) {
	logger := ctxlog.FromContext(ctx).With("run_id", e.record.ID, "pipeline", e.record.Pipeline)

	statuses := make(map[string]run.StageStatus, e.graph.Len())
	for _, name := range e.graph.Nodes() {
		if st, ok := initial[name]; ok {
			statuses[name] = st
		} else {
			statuses[name] = run.StagePending
		}
	}

	completions := make(chan stageOutcome)
	inflight := 0
	halted := false
	cancelled := false
	failed := false
	requeued := make(map[string]bool)
	done := ctx.Done()

	for {
		if ctx.Err() != nil && !cancelled {
			cancelled = true
			halted = true
			done = nil
		}
		if !halted {
			if err := e.promote(ctx, statuses); err != nil {
				return run.Failed, err
			}
			launched, err := e.dispatch(ctx, statuses, inflight, completions)
			if err != nil {
				return run.Failed, err
			}
			inflight += launched
		}
		if inflight == 0 {
			break
		}

		select {
		case out := <-completions:
			inflight--
			switch {
			case out.err == nil:
				if err := e.apply(ctx, statuses, out.stage, run.StageSucceeded, ""); err != nil {
					return run.Failed, err
				}
				logger.Info("stage succeeded", "stage", out.stage)
			case errors.Is(out.err, context.Canceled) && ctx.Err() != nil:
				// The stage was interrupted by run cancellation, not
				// broken. Re-queue it so a later resume can run it again.
				// The completion may arrive before the done signal, so the
				// run context is checked directly.
				cancelled = true
				halted = true
				if err := e.apply(ctx, statuses, out.stage, run.StageReady, "run cancelled"); err != nil {
					return run.Failed, err
				}
				requeued[out.stage] = true
				logger.Info("stage interrupted by cancellation", "stage", out.stage)
			default:
				failed = true
				if err := e.apply(ctx, statuses, out.stage, run.StageFailed, out.err.Error()); err != nil {
					return run.Failed, err
				}
				logger.Error("stage failed", "stage", out.stage, "error", out.err)
				if e.record.Policy == run.FailFast {
					halted = true
				}
			}
		case <-done:
			done = nil
			cancelled = true
			halted = true
			logger.Info("cancellation requested, draining in-flight stages", "inflight", inflight)
		}
	}

	if err := e.settleRemaining(ctx, statuses, requeued, cancelled); err != nil {
		return run.Failed, err
	}

	status := run.Succeeded
	switch {
	case cancelled:
		status = run.Cancelled
	case failed:
		status = run.Failed
	}
	logger.Info("run finished", "status", status)
	return status, nil
}

// promote advances pending stages: a stage whose dependencies all succeeded
// becomes ready; a stage with a failed or skipped dependency is skipped.
// Skips cascade, so the pass repeats until nothing changes.
func (e *Engine) promote(ctx context.Context, statuses map[string]run.StageStatus) error {
	for changed := true; changed; {
		changed = false
		for _, name := range e.graph.Nodes() {
			if statuses[name] != run.StagePending {
				continue
			}
			ready := true
			blockedBy := ""
			for _, dep := range e.graph.Dependencies(name) {
				switch statuses[dep] {
				case run.StageSucceeded:
				case run.StageFailed, run.StageSkipped:
					blockedBy = dep
					ready = false
				default:
					ready = false
				}
				if blockedBy != "" {
					break
				}
			}
			switch {
			case blockedBy != "":
				reason := fmt.Sprintf("dependency %q did not succeed", blockedBy)
				if err := e.apply(ctx, statuses, name, run.StageSkipped, reason); err != nil {
					return err
				}
				changed = true
			case ready:
				if err := e.apply(ctx, statuses, name, run.StageReady, ""); err != nil {
					return err
				}
				changed = true
			}
		}
	}
	return nil
}

// dispatch starts ready stages in declaration order while capacity remains,
// and returns how many it launched.
func (e *Engine) dispatch(ctx context.Context, statuses map[string]run.StageStatus, inflight int, completions chan<- stageOutcome) (int, error) {
	launched := 0
	for _, name := range e.graph.Nodes() {
		if inflight+launched >= e.concurrency {
			break
		}
		if statuses[name] != run.StageReady {
			continue
		}
		if err := e.apply(ctx, statuses, name, run.StageRunning, ""); err != nil {
			return launched, err
		}
		launched++
		go func(stage string) {
			completions <- stageOutcome{stage: stage, err: e.executeStage(ctx, stage)}
		}(name)
	}
	return launched, nil
}

// settleRemaining marks every stage that never started as skipped once the
// run stops dispatching. Stages re-queued by cancellation keep their ready
// status so a resume can pick them up.
func (e *Engine) settleRemaining(ctx context.Context, statuses map[string]run.StageStatus, requeued map[string]bool, cancelled bool) error {
	reason := "not dispatched before the run stopped"
	if cancelled {
		reason = "run cancelled"
	}
	for _, name := range e.graph.Nodes() {
		st := statuses[name]
		if st.Terminal() || requeued[name] {
			continue
		}
		if st == run.StageRunning {
			// Cannot happen: the loop drains in-flight stages before
			// settling. Guard anyway rather than journal a bogus skip.
			return fmt.Errorf("stage %q still running after drain", name)
		}
		if err := e.apply(ctx, statuses, name, run.StageSkipped, reason); err != nil {
			return err
		}
	}
	return nil
}

// apply journals a transition and only then updates the in-memory map. A
// journal write failure aborts the run: once durability is gone, resume
// can no longer be trusted.
func (e *Engine) apply(ctx context.Context, statuses map[string]run.StageStatus, name string, to run.StageStatus, reason string) error {
	from := statuses[name]
	if !run.ValidStageTransition(from, to) {
		return fmt.Errorf("invalid transition for stage %q: %s -> %s", name, from, to)
	}
	if ctx.Err() != nil {
		// Transitions during cancellation drain must still reach the
		// journal, or the run would not be resumable.
		ctx = context.WithoutCancel(ctx)
	}
	t := state.Transition{Stage: name, From: from, To: to, At: nowUTC(), Reason: reason}
	if err := e.tracker.RecordTransition(ctx, e.record.ID, t); err != nil {
		return fmt.Errorf("journaling %s -> %s for stage %q: %w", from, to, name, err)
	}
	statuses[name] = to
	return nil
}
