// Package dag validates a pipeline's dependency declarations and derives the
// execution structure from them: topological layers, direct relations, and
// transitive reachability.
//
// A Graph is immutable once built, so readers need no locking.
package dag

import (
	"fmt"
	"strings"

	"github.com/stackforge-io/stackforge/internal/config"
)

// DefinitionError reports a structurally invalid pipeline definition. It
// covers dependency cycles, references to unknown stages, and duplicate
// stage names.
type DefinitionError struct {
	Pipeline string
	Detail   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid pipeline %q: %s", e.Pipeline, e.Detail)
}

// Graph is the validated dependency structure of one pipeline.
type Graph struct {
	pipeline string

	// order lists stage names in declaration order.
	order  []string
	stages map[string]*config.Stage

	// deps and dependents hold direct relations with deterministic
	// ordering: deps in the order declared, dependents in declaration
	// order of the depending stages.
	deps       map[string][]string
	dependents map[string][]string

	layers    [][]string
	ancestors map[string]map[string]bool
}

// Build validates the pipeline and constructs its graph. Validation covers
// duplicate stage names, references to undeclared stages, and dependency
// cycles; a cycle error names the full cycle path.
func Build(p *config.Pipeline) (*Graph, error) {
	g := &Graph{
		pipeline:   p.Name,
		stages:     make(map[string]*config.Stage, len(p.Stages)),
		deps:       make(map[string][]string, len(p.Stages)),
		dependents: make(map[string][]string, len(p.Stages)),
	}

	for _, s := range p.Stages {
		if _, dup := g.stages[s.Name]; dup {
			return nil, &DefinitionError{
				Pipeline: p.Name,
				Detail:   fmt.Sprintf("stage %q declared more than once", s.Name),
			}
		}
		g.stages[s.Name] = s
		g.order = append(g.order, s.Name)
	}

	for _, name := range g.order {
		seen := make(map[string]bool)
		for _, dep := range g.stages[name].DependsOn {
			if _, known := g.stages[dep]; !known {
				return nil, &DefinitionError{
					Pipeline: p.Name,
					Detail:   fmt.Sprintf("stage %q depends on unknown stage %q", name, dep),
				}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[name] = append(g.deps[name], dep)
		}
	}
	for _, name := range g.order {
		for _, dep := range g.deps[name] {
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if err := g.findCycle(); err != nil {
		return nil, err
	}
	g.buildLayers()
	g.buildAncestors()
	return g, nil
}

// Pipeline returns the name of the pipeline this graph was built from.
func (g *Graph) Pipeline() string { return g.pipeline }

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.order) }

// Nodes returns all stage names in declaration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Stage returns the stage definition behind a node.
func (g *Graph) Stage(name string) (*config.Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Dependencies returns the direct dependencies of a stage in declared order.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the stages that directly depend on name, in their
// declaration order.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Layers returns the topological layering of the graph: layer 0 holds the
// stages with no dependencies, layer k the stages whose dependencies all sit
// in earlier layers. Within a layer, names keep declaration order.
func (g *Graph) Layers() [][]string {
	out := make([][]string, len(g.layers))
	for i, layer := range g.layers {
		out[i] = append([]string(nil), layer...)
	}
	return out
}

// DependsOnTransitively reports whether consumer reaches producer through
// one or more dependency edges.
func (g *Graph) DependsOnTransitively(consumer, producer string) bool {
	return g.ancestors[consumer][producer]
}

// findCycle runs a depth-first search along dependency edges, keeping the
// active path so that a detected cycle can be reported in full.
func (g *Graph) findCycle() error {
	visited := make(map[string]bool, len(g.order))
	onStack := make(map[string]bool, len(g.order))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		for _, dep := range g.deps[name] {
			if onStack[dep] {
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), dep)
				return &DefinitionError{
					Pipeline: g.pipeline,
					Detail:   "dependency cycle: " + strings.Join(cycle, " -> "),
				}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		onStack[name] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildLayers computes the topological layering with Kahn's algorithm,
// scanning stages in declaration order so the result is deterministic.
func (g *Graph) buildLayers() {
	remaining := make(map[string]int, len(g.order))
	for _, name := range g.order {
		remaining[name] = len(g.deps[name])
	}

	emitted := make(map[string]bool, len(g.order))
	for len(emitted) < len(g.order) {
		var layer []string
		for _, name := range g.order {
			if !emitted[name] && remaining[name] == 0 {
				layer = append(layer, name)
			}
		}
		for _, name := range layer {
			emitted[name] = true
			for _, dependent := range g.dependents[name] {
				remaining[dependent]--
			}
		}
		g.layers = append(g.layers, layer)
	}
}

// buildAncestors accumulates each stage's transitive dependency set by
// walking the layers in order, so every dependency is finished before its
// dependents are processed.
func (g *Graph) buildAncestors() {
	g.ancestors = make(map[string]map[string]bool, len(g.order))
	for _, layer := range g.layers {
		for _, name := range layer {
			anc := make(map[string]bool)
			for _, dep := range g.deps[name] {
				anc[dep] = true
				for a := range g.ancestors[dep] {
					anc[a] = true
				}
			}
			g.ancestors[name] = anc
		}
	}
}
