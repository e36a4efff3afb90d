package integration_tests

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/run"
)

// A run cancelled in one process picks up in another: the killed stage is
// re-executed, finished stages keep their outcome and artifacts, and the
// journal ties both halves to one run id.
func TestCancelledRunResumesInAnotherProcess(t *testing.T) {
	w := newWorld(t)
	// The publish stage spins until a file shows up in the environment
	// directory, so the first attempt hangs until cancelled and the
	// resumed attempt finishes immediately.
	def := w.writeDefinition("release.hcl", `
pipeline "release" {
  stage "script" "prepare" {
    arguments {
      command = "echo prepared > prepared.txt"
      outputs = { prepared = "prepared.txt" }
    }
  }
  stage "script" "publish" {
    depends_on = ["prepare"]
    arguments {
      work_dir = "`+w.env+`"
      command  = "while [ ! -f unblock ]; do sleep 0.1; done; echo done > published.txt"
      outputs  = { published = "published.txt" }
    }
  }
}
`)

	first, ctx := w.startProcess(t)

	type outcome struct {
		res *orchestrator.DeployResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := first.Deploy(ctx, orchestrator.DeployOptions{DefinitionPath: def})
		done <- outcome{res, err}
	}()

	var runID string
	require.Eventually(t, func() bool {
		runs, err := first.Runs(ctx)
		if err != nil || len(runs) == 0 {
			return false
		}
		runID = runs[0].ID
		rep, err := first.Status(ctx, runID)
		if err != nil {
			return false
		}
		for _, s := range rep.Stages {
			if s.Name == "publish" && s.Status == run.StageRunning {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond, "publish never reached running")

	require.NoError(t, first.Cancel(ctx, runID))

	var out outcome
	select {
	case out = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deploy did not return after cancel")
	}
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Run)
	assert.Equal(t, run.Cancelled, out.res.Run.Status)
	assert.Equal(t, run.StageSucceeded, stageByName(t, out.res.Run, "prepare").Status)

	interrupted := stageByName(t, out.res.Run, "publish")
	assert.Equal(t, run.StageReady, interrupted.Status, "the killed stage is re-queued, not failed")
	assert.Equal(t, "run cancelled", interrupted.Reason)

	require.NoError(t, os.WriteFile(filepath.Join(w.env, "unblock"), nil, 0o644))

	second, ctx2 := w.startProcess(t)
	res, err := second.Resume(ctx2, runID)
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.Equal(t, run.Succeeded, res.Run.Status)

	published := stageByName(t, res.Run, "publish")
	assert.Equal(t, run.StageSucceeded, published.Status)
	assert.Empty(t, published.Reason, "the successful attempt supersedes the cancellation")
	assert.Equal(t, []string{"published"}, published.Artifacts)
	assert.FileExists(t, filepath.Join(w.env, "published.txt"))

	// The first attempt's work survives: prepare was not re-run and its
	// artifact stayed on the record.
	prepare := stageByName(t, res.Run, "prepare")
	assert.Equal(t, run.StageSucceeded, prepare.Status)
	assert.Equal(t, []string{"prepared"}, prepare.Artifacts)

	runs, err := second.Runs(ctx2)
	require.NoError(t, err)
	require.Len(t, runs, 1, "resume continues the run instead of starting a new one")
	assert.Equal(t, run.Succeeded, runs[0].Status)
}
