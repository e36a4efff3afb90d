package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
	"github.com/stackforge-io/stackforge/internal/run"
)

// With restore on failure enabled, a deploy that installs units and then
// fails rolls the environment back to the pre-deployment snapshot.
func TestFailedDeployRollsBackInstalledUnits(t *testing.T) {
	w := newWorld(t)
	def := w.writeDefinition("provision.hcl", `
pipeline "provision" {
  stage "build" "toolchain" {
    arguments {
      units = ["gcc@13.2.0"]
    }
  }
  stage "script" "smoke" {
    depends_on = ["toolchain"]
    arguments {
      command = "exit 1"
    }
  }
}
`)
	orch, ctx := w.startProcess(t, func(s *config.Settings) { s.RestoreOnFailure = true })

	res, err := orch.Deploy(ctx, orchestrator.DeployOptions{DefinitionPath: def})
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.Equal(t, run.Failed, res.Run.Status)
	assert.Contains(t, stageByName(t, res.Run, "smoke").Reason, "exit status 1")
	assert.Equal(t, res.Run.PreSnapshotID, res.RestoredTo)

	installed, err := pkgmgr.NewLocalManager().ListInstalled(ctx, w.env)
	require.NoError(t, err)
	assert.Empty(t, installed, "rollback removed the unit the failed run installed")
}
