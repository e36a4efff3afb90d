package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"

	"github.com/stackforge-io/stackforge/internal/run"
)

// Model is the unified, format-agnostic representation of everything loaded
// from pipeline definition files.
type Model struct {
	// Pipelines holds every parsed pipeline in declaration order, with
	// files processed in sorted path order.
	Pipelines []*Pipeline
}

// Lookup finds a pipeline by name.
func (m *Model) Lookup(name string) (*Pipeline, bool) {
	for _, p := range m.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Pipeline is the format-agnostic representation of a `pipeline` block.
type Pipeline struct {
	Name        string
	Description string

	// Environment is the default environment handle for runs of this
	// pipeline. The command line may override it.
	Environment string

	// OnError is the failure policy stages run under. Empty means the
	// pipeline did not choose one and defers to the process settings.
	OnError run.FailurePolicy

	// Stages are kept in declaration order; the scheduler depends on that
	// order for deterministic dispatch.
	Stages []*Stage
}

// Stage returns the named stage, if declared.
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Stage is the format-agnostic representation of a `stage` block.
type Stage struct {
	Name string

	// Kind selects the executor. It is an explicit tag from a closed set;
	// the executor registry rejects pipelines referencing unknown kinds
	// before any stage runs.
	Kind string

	// DependsOn lists the names of stages that must succeed first.
	DependsOn []string

	// MaxDuration bounds one execution of this stage. Zero means no limit.
	MaxDuration time.Duration

	// Parallel caps the worker fan-out inside the stage. Zero means one.
	Parallel int

	// Arguments carries the unevaluated attribute expressions from the
	// stage's arguments block, keyed by attribute name.
	Arguments map[string]hcl.Expression
}
