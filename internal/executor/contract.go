// Package executor defines the contract between the deployment engine and
// the closed set of stage kinds it can dispatch, and provides the built-in
// implementations: script, build and modules.
package executor

import (
	"context"

	"github.com/hashicorp/hcl/v2"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

// Input carries everything a stage needs at execution time. The engine
// resolves upstream artifacts and the evaluation context before dispatch;
// executors never reach back into the graph.
type Input struct {
	Stage       *config.Stage
	Pipeline    string
	RunID       string
	Environment string

	// WorkDir is the stage's private scratch directory. Produced artifact
	// paths must live under it.
	WorkDir string

	// Artifacts are the upstream outputs this stage is authorized to read,
	// already fetched into WorkDir by the engine.
	Artifacts []artifact.Artifact

	// EvalCtx resolves variable references inside stage arguments.
	EvalCtx *hcl.EvalContext

	PackageManager pkgmgr.Manager
	ModulefileRoot string
	Mirrors        []string
}

// Produced names one file artifact created by a stage.
type Produced struct {
	Name string
	Path string
}

// Result is what a stage execution hands back to the engine. Log carries the
// captured output and is populated even when Execute returns an error.
type Result struct {
	Artifacts []Produced
	Log       string
}

// Executor runs one kind of stage. Implementations must honor context
// cancellation and return promptly once ctx is done.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, in *Input) (*Result, error)
}

// capacity clamps a stage's parallel setting to a usable worker bound.
// Stages without an explicit setting run their sub-units one at a time.
func capacity(parallel int) int {
	if parallel < 1 {
		return 1
	}
	return parallel
}
