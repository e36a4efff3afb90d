package config

import (
	"github.com/hashicorp/hcl/v2"
)

// stageArgs represents the content of the 'arguments' block within a stage.
type stageArgs struct {
	Body hcl.Body `hcl:",remain"`
}

// stageBlock represents a `stage` block from a pipeline file. The first
// label is the executor kind, the second the stage name, mirroring
// `stage "build" "compilers" { ... }`.
type stageBlock struct {
	Kind        string     `hcl:"kind,label"`
	Name        string     `hcl:"name,label"`
	DependsOn   []string   `hcl:"depends_on,optional"`
	MaxDuration string     `hcl:"max_duration,optional"`
	Parallel    int        `hcl:"parallel,optional"`
	Arguments   *stageArgs `hcl:"arguments,block"`
}

// pipelineBlock represents a top-level `pipeline` block.
type pipelineBlock struct {
	Name        string        `hcl:"name,label"`
	Description string        `hcl:"description,optional"`
	Environment string        `hcl:"environment,optional"`
	OnError     string        `hcl:"on_error,optional"`
	Stages      []*stageBlock `hcl:"stage,block"`
}

// fileRoot decodes all recognized top-level blocks from one definition file.
type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
	Remain    hcl.Body         `hcl:",remain"`
}
