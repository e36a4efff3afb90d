package orchestrator

import (
	"context"
	"fmt"

	"github.com/stackforge-io/stackforge/internal/snapshot"
)

// SnapshotCreate captures the environment's current state under the
// environment lock, so a capture never interleaves with a deployment or a
// restore of the same environment.
func (o *Orchestrator) SnapshotCreate(ctx context.Context, env, description string, tags []string) (*snapshot.Snapshot, error) {
	env, err := o.resolveEnvironment(env, "")
	if err != nil {
		return nil, err
	}
	release, err := o.locks.Acquire(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("locking environment %q: %w", env, err)
	}
	defer release()

	return o.snapshots.Create(ctx, env, snapshot.CreateOptions{
		Description: description,
		Tags:        tags,
	})
}

// SnapshotList returns every stored snapshot, oldest first.
func (o *Orchestrator) SnapshotList(ctx context.Context) ([]*snapshot.Snapshot, error) {
	return o.snapshots.List(ctx)
}

// SnapshotDiff reports the unit-level changes from one snapshot to another.
func (o *Orchestrator) SnapshotDiff(ctx context.Context, fromID, toID string) (snapshot.Diff, error) {
	return o.snapshots.Diff(ctx, fromID, toID)
}

// SnapshotRestore brings the environment back to a snapshot's state. The
// lock is held for dry runs too; planning against an environment someone
// else is mutating would produce a torn plan.
func (o *Orchestrator) SnapshotRestore(ctx context.Context, env, id string, dryRun bool) (*snapshot.RestoreReport, error) {
	env, err := o.resolveEnvironment(env, "")
	if err != nil {
		return nil, err
	}
	release, err := o.locks.Acquire(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("locking environment %q: %w", env, err)
	}
	defer release()

	return o.snapshots.Restore(ctx, env, id, dryRun)
}

// SnapshotDelete removes a snapshot record. Pinned snapshots refuse.
func (o *Orchestrator) SnapshotDelete(ctx context.Context, id string) error {
	return o.snapshots.Delete(ctx, id)
}

// SnapshotPin marks or unmarks a snapshot as exempt from deletion and
// retention sweeps.
func (o *Orchestrator) SnapshotPin(ctx context.Context, id string, pinned bool) error {
	return o.snapshots.Pin(ctx, id, pinned)
}

// SnapshotCleanup applies a retention policy to the stored snapshots.
func (o *Orchestrator) SnapshotCleanup(ctx context.Context, policy snapshot.RetentionPolicy) (*snapshot.CleanupReport, error) {
	return o.snapshots.Cleanup(ctx, policy)
}
