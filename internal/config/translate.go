// This file translates the HCL-specific schema structs into the
// format-agnostic model. Structural validation that does not need the
// dependency graph happens here; graph-level validation lives in the dag
// package.

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/run"
)

func translatePipeline(ctx context.Context, pb *pipelineBlock) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", pb.Name)
	logger.Debug("translating pipeline block to internal model")

	if pb.Name == "" {
		return nil, fmt.Errorf("pipeline has an empty name")
	}

	// An absent on_error stays empty so the process-wide default can apply;
	// only an explicit value is pinned to the pipeline here.
	var policy run.FailurePolicy
	if pb.OnError != "" {
		parsed, err := run.ParseFailurePolicy(pb.OnError)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", pb.Name, err)
		}
		policy = parsed
	}

	p := &Pipeline{
		Name:        pb.Name,
		Description: pb.Description,
		Environment: pb.Environment,
		OnError:     policy,
	}

	for _, sb := range pb.Stages {
		stage, err := translateStage(sb)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", pb.Name, err)
		}
		p.Stages = append(p.Stages, stage)
	}
	return p, nil
}

func translateStage(sb *stageBlock) (*Stage, error) {
	if sb.Name == "" {
		return nil, fmt.Errorf("stage of kind %q has an empty name", sb.Kind)
	}
	if sb.Kind == "" {
		return nil, fmt.Errorf("stage %q has an empty kind", sb.Name)
	}
	if sb.Parallel < 0 {
		return nil, fmt.Errorf("stage %q: parallel must not be negative, got %d", sb.Name, sb.Parallel)
	}

	var maxDuration time.Duration
	if sb.MaxDuration != "" {
		d, err := time.ParseDuration(sb.MaxDuration)
		if err != nil {
			return nil, fmt.Errorf("stage %q: invalid max_duration %q: %w", sb.Name, sb.MaxDuration, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage %q: max_duration must be positive, got %q", sb.Name, sb.MaxDuration)
		}
		maxDuration = d
	}

	for _, dep := range sb.DependsOn {
		if dep == "" {
			return nil, fmt.Errorf("stage %q lists an empty dependency name", sb.Name)
		}
	}

	return &Stage{
		Name:        sb.Name,
		Kind:        sb.Kind,
		DependsOn:   sb.DependsOn,
		MaxDuration: maxDuration,
		Parallel:    sb.Parallel,
		Arguments:   extractBodyAttributes(sb.Arguments),
	}, nil
}

// extractBodyAttributes flattens an arguments block into a map of named,
// unevaluated expressions. Evaluation is deferred until an executor decodes
// them against its own argument struct.
func extractBodyAttributes(args *stageArgs) map[string]hcl.Expression {
	if args == nil || args.Body == nil {
		return nil
	}
	attrs, _ := args.Body.JustAttributes()
	if len(attrs) == 0 {
		return nil
	}
	exprMap := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprMap[name] = attr.Expr
	}
	return exprMap
}
