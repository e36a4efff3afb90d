// Package state tracks deployment run state durably. Every stage transition
// is written ahead of being applied in memory, so a crashed run can be
// reconstructed and resumed from the journal alone.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/run"
)

// ErrRunNotFound is returned when no run exists under the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the durable header of a run. It carries everything needed to
// rebuild the run's execution context after a crash: where the definition
// came from, which environment it targets, and which stages were selected.
type RunRecord struct {
	ID             string            `json:"id"`
	Pipeline       string            `json:"pipeline"`
	DefinitionPath string            `json:"definitionPath"`
	Environment    string            `json:"environment"`
	Policy         run.FailurePolicy `json:"policy"`
	StageFilter    []string          `json:"stageFilter,omitempty"`
	PreSnapshotID  string            `json:"preSnapshotId,omitempty"`
	Status         run.Status        `json:"status"`
	StartedAt      time.Time         `json:"startedAt"`
	FinishedAt     *time.Time        `json:"finishedAt,omitempty"`
}

// Transition is one stage status change. Reason carries the failure or skip
// cause when there is one.
type Transition struct {
	Stage  string          `json:"stage"`
	From   run.StageStatus `json:"from"`
	To     run.StageStatus `json:"to"`
	At     time.Time       `json:"at"`
	Reason string          `json:"reason,omitempty"`
}

// RunState is a run reconstructed from durable storage.
type RunState struct {
	Record RunRecord

	// Stages maps stage name to the last journaled status. Stages that
	// never journaled anything are absent and therefore pending.
	Stages map[string]run.StageStatus

	// History holds every journaled transition in order.
	History []Transition

	// Artifacts holds every journaled artifact registration.
	Artifacts []artifact.Artifact
}

// Tracker persists run state. RecordTransition and RecordArtifact must be
// durable before they return; the scheduler applies a transition in memory
// only after the tracker accepted it.
type Tracker interface {
	// Begin creates the durable run header. Reusing an id is an error.
	Begin(ctx context.Context, rec RunRecord) error

	// RecordTransition appends one stage transition to the run's journal.
	RecordTransition(ctx context.Context, runID string, t Transition) error

	// RecordArtifact appends one artifact registration to the journal.
	RecordArtifact(ctx context.Context, runID string, a artifact.Artifact) error

	// Finish seals the run with its final status.
	Finish(ctx context.Context, runID string, status run.Status, at time.Time) error

	// Load reconstructs a run from the journal.
	Load(ctx context.Context, runID string) (*RunState, error)

	// List returns the headers of all known runs, oldest first.
	List(ctx context.Context) ([]RunRecord, error)

	// Close releases any underlying resources.
	Close() error
}

// Recover derives the stage statuses a resumed run starts from. Succeeded,
// failed and skipped stages keep their status; stages recorded as running at
// crash time are re-queued as ready, which makes their re-execution
// at-least-once. Ready collapses back to pending so the scheduler re-derives
// readiness itself. The returned list names the re-queued stages.
func Recover(stages map[string]run.StageStatus) (map[string]run.StageStatus, []string) {
	out := make(map[string]run.StageStatus, len(stages))
	var requeued []string
	for name, status := range stages {
		switch status {
		case run.StageRunning:
			out[name] = run.StageReady
			requeued = append(requeued, name)
		case run.StageReady:
			out[name] = run.StagePending
		default:
			out[name] = status
		}
	}
	return out, requeued
}
