package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/fsutil"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
	"github.com/stackforge-io/stackforge/internal/unitspec"
)

// Build installs the stage's unit specs into the target environment through
// the package manager. Installs run concurrently up to the stage's parallel
// capacity. The stage publishes an install manifest artifact named
// "<stage>.units" unless export_manifest is disabled.
type Build struct{}

func (b *Build) Kind() string { return "build" }

func (b *Build) Execute(ctx context.Context, in *Input) (*Result, error) {
	if err := checkArgs(in, "units", "export_manifest"); err != nil {
		return nil, err
	}

	raw, err := stringListArg(in, "units")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("build stage needs a units list")
	}
	specs, err := unitspec.ParseAll(raw)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if !spec.Pinned() {
			return nil, fmt.Errorf("unit %q needs an explicit version", spec.Name)
		}
	}

	logger := ctxlog.FromContext(ctx).With("stage", in.Stage.Name, "environment", in.Environment)
	logger.Info("installing units", "count", len(specs), "mirrors", len(in.Mirrors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(capacity(in.Stage.Parallel))
	for _, spec := range specs {
		g.Go(func() error {
			unit := pkgmgr.Unit{Name: spec.Name, Version: spec.Version}
			if err := in.PackageManager.Install(gctx, in.Environment, unit); err != nil {
				return fmt.Errorf("installing %s: %w", spec, err)
			}
			logger.Debug("unit installed", "unit", spec.String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logText := fmt.Sprintf("installed %d units into %s\n", len(specs), in.Environment)

	export, err := boolArgOr(in, "export_manifest", true)
	if err != nil {
		return nil, err
	}
	if !export {
		return &Result{Log: logText}, nil
	}

	var manifest strings.Builder
	for _, spec := range specs {
		manifest.WriteString(spec.String())
		manifest.WriteByte('\n')
	}
	name := in.Stage.Name + ".units"
	path := filepath.Join(in.WorkDir, name)
	if err := fsutil.WriteFileAtomic(path, []byte(manifest.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing install manifest: %w", err)
	}

	return &Result{
		Artifacts: []Produced{{Name: name, Path: path}},
		Log:       logText,
	}, nil
}
