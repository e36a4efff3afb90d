package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/run"
)

func TestSettingsFromEnvDefaults(t *testing.T) {
	s, err := SettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ".stackforge", s.StateRoot)
	assert.Equal(t, DefaultConcurrency, s.Concurrency)
	assert.Equal(t, run.FailFast, s.FailurePolicy)
	assert.Equal(t, SnapshotIDRandom, s.SnapshotIDPolicy)
	assert.False(t, s.RestoreOnFailure)

	// Derived paths stay empty until Validate, so flag overrides of the
	// state root can still move them.
	assert.Empty(t, s.SnapshotRoot)
	require.NoError(t, s.Validate())
	assert.Equal(t, filepath.Join(".stackforge", "snapshots"), s.SnapshotRoot)
	assert.Equal(t, filepath.Join(".stackforge", "modulefiles"), s.ModulefileRoot)
	assert.Equal(t, filepath.Join(".stackforge", "blobs"), s.Blob.Root)
}

func TestSettingsFromEnvOverrides(t *testing.T) {
	t.Setenv("STACKFORGE_STATE_ROOT", "/var/lib/forge")
	t.Setenv("STACKFORGE_CONCURRENCY", "9")
	t.Setenv("STACKFORGE_ON_ERROR", "continue")
	t.Setenv("STACKFORGE_SNAPSHOT_ID_POLICY", "content")
	t.Setenv("STACKFORGE_MIRRORS", "https://a.example, https://b.example")
	t.Setenv("STACKFORGE_RESTORE_ON_FAILURE", "true")

	s, err := SettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/forge", s.StateRoot)
	assert.Equal(t, filepath.Join("/var/lib/forge", "runs"), s.RunsRoot())
	assert.Equal(t, 9, s.Concurrency)
	assert.Equal(t, run.ContinueOnError, s.FailurePolicy)
	assert.Equal(t, SnapshotIDContent, s.SnapshotIDPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.Mirrors)
	assert.True(t, s.RestoreOnFailure)
}

func TestSettingsValidate(t *testing.T) {
	t.Run("bad concurrency", func(t *testing.T) {
		s := Settings{StateRoot: "x", Concurrency: 0, SnapshotIDPolicy: SnapshotIDRandom}
		assert.ErrorContains(t, s.Validate(), "concurrency")
	})

	t.Run("bad id policy", func(t *testing.T) {
		s := Settings{StateRoot: "x", Concurrency: 1, SnapshotIDPolicy: "sequential"}
		assert.ErrorContains(t, s.Validate(), "snapshot id policy")
	})

	t.Run("explicit snapshot root preserved", func(t *testing.T) {
		s := Settings{StateRoot: "x", Concurrency: 1, SnapshotIDPolicy: SnapshotIDRandom, SnapshotRoot: "/snaps"}
		require.NoError(t, s.Validate())
		assert.Equal(t, "/snaps", s.SnapshotRoot)
	})
}

func TestSettingsFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("STACKFORGE_CONCURRENCY", "not-a-number")
	_, err := SettingsFromEnv()
	assert.Error(t, err)
}
