package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/app"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/run"
	"github.com/stackforge-io/stackforge/internal/testutil"
)

// world is the durable half of a test setup: the state root, the target
// environment and the definition files that outlive any single process.
type world struct {
	t         *testing.T
	dir       string
	stateRoot string
	env       string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	dir := t.TempDir()
	env := filepath.Join(dir, "env")
	require.NoError(t, os.MkdirAll(env, 0o755))
	return &world{t: t, dir: dir, stateRoot: filepath.Join(dir, "state"), env: env}
}

func (w *world) writeDefinition(name, content string) string {
	w.t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(w.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startProcess wires a full App over the world's state root, standing in
// for one stackforge process. Tests start several against the same world to
// cross process boundaries the way a crash or a second invocation does.
func (w *world) startProcess(t *testing.T, opts ...func(*config.Settings)) (*orchestrator.Orchestrator, context.Context) {
	t.Helper()
	settings := &config.Settings{
		StateRoot:        w.stateRoot,
		Environment:      w.env,
		Concurrency:      2,
		FailurePolicy:    run.FailFast,
		SnapshotIDPolicy: config.SnapshotIDRandom,
		LogLevel:         "debug",
		LogFormat:        "text",
	}
	for _, opt := range opts {
		opt(settings)
	}
	require.NoError(t, settings.Validate())

	a, err := app.New(context.Background(), &testutil.SafeBuffer{}, settings)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a.Orchestrator(), a.Context(context.Background())
}

func stageByName(t *testing.T, rep *orchestrator.RunReport, name string) orchestrator.StageReport {
	t.Helper()
	for _, s := range rep.Stages {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("stage %q not in report", name)
	return orchestrator.StageReport{}
}
