// Package run holds the shared vocabulary of a deployment run: stage and run
// statuses, the legal transitions between them, and the failure policies a
// run can execute under.
package run

import "fmt"

// StageStatus is the lifecycle state of a single stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageReady     StageStatus = "ready"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Terminal reports whether a stage in this status can never change again
// within the same run. Recovery after a crash is the one exception: a stage
// recorded as running is re-queued, which is modeled as running -> ready.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped:
		return true
	}
	return false
}

// stageTransitions enumerates every edge of the stage lifecycle.
var stageTransitions = map[StageStatus][]StageStatus{
	StagePending: {StageReady, StageSkipped},
	StageReady:   {StageRunning, StageSkipped},
	StageRunning: {StageSucceeded, StageFailed, StageReady},
}

// ValidStageTransition reports whether from -> to is a legal lifecycle edge.
func ValidStageTransition(from, to StageStatus) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Status is the overall outcome of a run.
type Status string

const (
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Done reports whether the run has reached a final outcome.
func (s Status) Done() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// FailurePolicy controls how the scheduler reacts when a stage fails.
type FailurePolicy string

const (
	// FailFast stops dispatching new stages after the first failure.
	// Stages already in flight run to completion.
	FailFast FailurePolicy = "fail_fast"

	// ContinueOnError keeps dispatching stages whose dependencies are
	// unaffected by failures elsewhere in the graph.
	ContinueOnError FailurePolicy = "continue"
)

// ParseFailurePolicy validates a textual policy. The empty string selects
// FailFast, the default.
func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch FailurePolicy(raw) {
	case "":
		return FailFast, nil
	case FailFast:
		return FailFast, nil
	case ContinueOnError:
		return ContinueOnError, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want %q or %q)", raw, FailFast, ContinueOnError)
}
