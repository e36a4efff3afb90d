package executor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stackforge-io/stackforge/internal/dag"
)

// Registry is the closed set of stage kinds available to a run. Dispatch is
// by kind tag only.
type Registry struct {
	byKind map[string]Executor
}

// NewRegistry builds a registry from the given executors. Kinds must be
// unique and non-empty.
func NewRegistry(execs ...Executor) (*Registry, error) {
	r := &Registry{byKind: make(map[string]Executor, len(execs))}
	for _, ex := range execs {
		kind := ex.Kind()
		if kind == "" {
			return nil, errors.New("executor reports an empty kind")
		}
		if _, dup := r.byKind[kind]; dup {
			return nil, fmt.Errorf("executor kind %q registered twice", kind)
		}
		r.byKind[kind] = ex
	}
	return r, nil
}

// DefaultRegistry returns the built-in executor set.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(&Script{}, &Build{}, &Modules{})
	if err != nil {
		// The built-in set is static; a collision here is a programming error.
		panic(err)
	}
	return r
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind string) (Executor, error) {
	ex, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for stage kind %q", kind)
	}
	return ex, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate checks that every stage in the graph names a registered kind.
// It runs before dispatch so a typo fails the run up front, not mid-flight.
func (r *Registry) Validate(g *dag.Graph) error {
	var problems []string
	for _, name := range g.Nodes() {
		stage, ok := g.Stage(name)
		if !ok {
			continue
		}
		if _, ok := r.byKind[stage.Kind]; !ok {
			problems = append(problems,
				fmt.Sprintf("stage %q uses unregistered kind %q", name, stage.Kind))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("executor registry: %s", strings.Join(problems, "; "))
	}
	return nil
}
