// Package orchestrator is the entry point of the deployment system. It owns
// the lifecycle of a run: loading the pipeline definition, building and
// validating the stage graph, capturing the pre-deployment snapshot, driving
// the engine, and sealing the result in the state tracker. Snapshot
// operations pass through here as well, so every mutation of an environment
// funnels through the same per-environment lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackforge-io/stackforge/internal/blob"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/envlock"
	"github.com/stackforge-io/stackforge/internal/executor"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
	"github.com/stackforge-io/stackforge/internal/run"
	"github.com/stackforge-io/stackforge/internal/runstore"
	"github.com/stackforge-io/stackforge/internal/snapshot"
	"github.com/stackforge-io/stackforge/internal/state"
)

// Params wires the orchestrator to its collaborators. Every field is
// required.
type Params struct {
	Settings       *config.Settings
	Loader         *config.Loader
	Registry       *executor.Registry
	Tracker        state.Tracker
	Blobs          blob.Store
	PackageManager pkgmgr.Manager
	Snapshots      *snapshot.Manager
	Locks          *envlock.Registry
	Runs           *runstore.Store
}

// Orchestrator coordinates deployments, resumes, cancellation and snapshot
// operations. It is safe for concurrent use; concurrent mutations of the
// same environment serialize on the environment lock.
type Orchestrator struct {
	settings  *config.Settings
	loader    *config.Loader
	registry  *executor.Registry
	tracker   state.Tracker
	blobs     blob.Store
	pkg       pkgmgr.Manager
	snapshots *snapshot.Manager
	locks     *envlock.Registry
	active    *runstore.Store
}

// New validates the wiring and returns a ready orchestrator.
func New(p Params) (*Orchestrator, error) {
	switch {
	case p.Settings == nil:
		return nil, errors.New("orchestrator: settings are required")
	case p.Loader == nil:
		return nil, errors.New("orchestrator: definition loader is required")
	case p.Registry == nil:
		return nil, errors.New("orchestrator: executor registry is required")
	case p.Tracker == nil:
		return nil, errors.New("orchestrator: state tracker is required")
	case p.Blobs == nil:
		return nil, errors.New("orchestrator: blob store is required")
	case p.PackageManager == nil:
		return nil, errors.New("orchestrator: package manager is required")
	case p.Snapshots == nil:
		return nil, errors.New("orchestrator: snapshot manager is required")
	case p.Locks == nil:
		return nil, errors.New("orchestrator: environment locks are required")
	case p.Runs == nil:
		return nil, errors.New("orchestrator: run registry is required")
	}
	return &Orchestrator{
		settings:  p.Settings,
		loader:    p.Loader,
		registry:  p.Registry,
		tracker:   p.Tracker,
		blobs:     p.Blobs,
		pkg:       p.PackageManager,
		snapshots: p.Snapshots,
		locks:     p.Locks,
		active:    p.Runs,
	}, nil
}

// Cancel stops an executing run. In-flight stages have their context
// cancelled and finish on their own terms; stages that never started are
// skipped. Cancelling a run that is not executing is an error, with the
// journal consulted for a precise complaint.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	err := o.active.Cancel(runID)
	if err == nil || !errors.Is(err, runstore.ErrNotRunning) {
		return err
	}

	st, loadErr := o.tracker.Load(ctx, runID)
	if loadErr != nil {
		return loadErr
	}
	if st.Record.Status.Done() {
		return fmt.Errorf("run %q already finished with status %s", runID, st.Record.Status)
	}
	return fmt.Errorf("run %q: %w in this process; it can be resumed", runID, runstore.ErrNotRunning)
}

// Status reports a run as recorded in the journal.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunReport, error) {
	st, err := o.tracker.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return buildRunReport(st), nil
}

// Runs lists the headers of all recorded runs, oldest first.
func (o *Orchestrator) Runs(ctx context.Context) ([]state.RunRecord, error) {
	return o.tracker.List(ctx)
}

// resolveEnvironment picks the target environment: an explicit override
// wins, then the pipeline's default, then the process-wide setting.
func (o *Orchestrator) resolveEnvironment(override, pipelineDefault string) (string, error) {
	for _, env := range []string{override, pipelineDefault, o.settings.Environment} {
		if env != "" {
			return env, nil
		}
	}
	return "", errors.New("no target environment: set one on the pipeline, the command line, or STACKFORGE_ENVIRONMENT")
}

// resolvePolicy picks the failure policy: the pipeline's own when set,
// otherwise the process default.
func (o *Orchestrator) resolvePolicy(p *config.Pipeline) run.FailurePolicy {
	if p.OnError != "" {
		return p.OnError
	}
	return o.settings.FailurePolicy
}
