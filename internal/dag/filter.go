package dag

import (
	"fmt"

	"github.com/stackforge-io/stackforge/internal/config"
)

// FilterPipeline narrows a pipeline to the named stages plus everything they
// transitively depend on, preserving declaration order. An empty keep list
// returns the pipeline unchanged. Naming an undeclared stage is a
// DefinitionError, since a typo in a stage filter should not silently deploy
// nothing.
func FilterPipeline(p *config.Pipeline, keep []string) (*config.Pipeline, error) {
	if len(keep) == 0 {
		return p, nil
	}

	g, err := Build(p)
	if err != nil {
		return nil, err
	}

	include := make(map[string]bool)
	for _, name := range keep {
		if _, ok := g.Stage(name); !ok {
			return nil, &DefinitionError{
				Pipeline: p.Name,
				Detail:   fmt.Sprintf("stage filter names unknown stage %q", name),
			}
		}
		include[name] = true
		for _, dep := range g.order {
			if g.DependsOnTransitively(name, dep) {
				include[dep] = true
			}
		}
	}

	filtered := &config.Pipeline{
		Name:        p.Name,
		Description: p.Description,
		Environment: p.Environment,
		OnError:     p.OnError,
	}
	for _, s := range p.Stages {
		if include[s.Name] {
			filtered.Stages = append(filtered.Stages, s)
		}
	}
	return filtered, nil
}
