package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/fsutil"
)

// Loader parses pipeline definition files written in HCL.
type Loader struct{}

// NewLoader creates a new pipeline definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file reachable from the given paths and merges the
// pipelines into one model. Paths may be files or directories; directories
// are walked recursively. A path that does not exist is an error here, since
// a deployment pointed at a missing definition should fail loudly.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("definition loader started", "path_count", len(paths))

	files, err := l.findDefinitionFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline definition files found under %v", paths)
	}
	logger.Debug("discovered definition files", "count", len(files))

	model := &Model{}
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}

		for _, pb := range root.Pipelines {
			p, err := translatePipeline(ctx, pb)
			if err != nil {
				return nil, fmt.Errorf("in %s: %w", file, err)
			}
			if _, exists := model.Lookup(p.Name); exists {
				return nil, fmt.Errorf("in %s: pipeline %q defined more than once", file, p.Name)
			}
			model.Pipelines = append(model.Pipelines, p)
		}
	}

	logger.Debug("definition loading complete", "pipelines", len(model.Pipelines))
	return model, nil
}

// findDefinitionFiles flattens files and directories into a sorted,
// de-duplicated list of .hcl files.
func (l *Loader) findDefinitionFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, dup := seen[p]; !dup {
			all = append(all, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if info.IsDir() {
			found, err := fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				add(f)
			}
			continue
		}
		if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}

	sort.Strings(all)
	return all, nil
}
