// Package runstore tracks the deployment runs executing in this process.
//
// The orchestrator registers a run's cancel function here for the duration
// of engine execution, which is what makes Cancel-by-id work: cancelling a
// run means looking up its entry and firing the context cancel. The store
// uses sync.Map because entries are independent and the hot operations are
// a Store at run start and a Delete at run end, with Cancel lookups racing
// either one.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRunning is returned when the requested run is not executing in this
// process, either because the id is unknown or because the run has already
// settled.
var ErrNotRunning = errors.New("not executing")

// Store is a thread-safe registry of in-flight runs.
type Store struct {
	runs sync.Map // run id -> context.CancelFunc
}

// New creates an empty run registry.
func New() *Store {
	return &Store{}
}

// Track registers an executing run under its id. The returned release
// function removes the entry and must be called once the run settles,
// whatever its outcome. Tracking an id twice is an error.
func (s *Store) Track(runID string, cancel context.CancelFunc) (release func(), err error) {
	if runID == "" {
		return nil, errors.New("run id must not be empty")
	}
	if cancel == nil {
		return nil, errors.New("cancel function must not be nil")
	}
	if _, loaded := s.runs.LoadOrStore(runID, cancel); loaded {
		return nil, fmt.Errorf("run %q is already tracked", runID)
	}
	return func() { s.runs.Delete(runID) }, nil
}

// Cancel fires the named run's cancel function. The run stays tracked until
// its release runs, so repeated cancels of a draining run are fine; the
// cancel function is idempotent.
func (s *Store) Cancel(runID string) error {
	v, ok := s.runs.Load(runID)
	if !ok {
		return fmt.Errorf("run %q: %w", runID, ErrNotRunning)
	}
	v.(context.CancelFunc)()
	return nil
}

// Tracked reports whether the named run is executing in this process.
func (s *Store) Tracked(runID string) bool {
	_, ok := s.runs.Load(runID)
	return ok
}

// Active returns the ids of currently tracked runs, sorted.
func (s *Store) Active() []string {
	var ids []string
	s.runs.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}
