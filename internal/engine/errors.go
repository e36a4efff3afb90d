package engine

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a stage that exceeded its max_duration. It sits inside a
// StageError chain so callers can test for it with errors.Is.
var ErrTimeout = errors.New("stage timed out")

// StageError is a contained per-stage execution failure. It never crashes
// the run; the scheduler records it and cascades skips to dependents.
type StageError struct {
	Stage   string
	Timeout bool
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
