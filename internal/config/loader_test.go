package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/run"
)

func writeDefinition(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSinglePipeline(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "toolchain.hcl", `
pipeline "toolchain" {
  description = "base toolchain rollout"
  environment = "./envs/dev"
  on_error    = "continue"

  stage "script" "base" {
    arguments {
      commands = ["true"]
    }
  }

  stage "build" "compilers" {
    depends_on   = ["base"]
    max_duration = "15m"
    parallel     = 4
    arguments {
      units = ["gcc@13.2.0", "cmake@3.27.1"]
    }
  }
}
`)

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Pipelines, 1)

	p := model.Pipelines[0]
	assert.Equal(t, "toolchain", p.Name)
	assert.Equal(t, "base toolchain rollout", p.Description)
	assert.Equal(t, "./envs/dev", p.Environment)
	assert.Equal(t, run.ContinueOnError, p.OnError)
	require.Len(t, p.Stages, 2)

	base := p.Stages[0]
	assert.Equal(t, "base", base.Name)
	assert.Equal(t, "script", base.Kind)
	assert.Empty(t, base.DependsOn)
	assert.Zero(t, base.MaxDuration)
	assert.Contains(t, base.Arguments, "commands")

	compilers := p.Stages[1]
	assert.Equal(t, "compilers", compilers.Name)
	assert.Equal(t, "build", compilers.Kind)
	assert.Equal(t, []string{"base"}, compilers.DependsOn)
	assert.Equal(t, 15*time.Minute, compilers.MaxDuration)
	assert.Equal(t, 4, compilers.Parallel)
}

func TestLoadPreservesDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "p.hcl", `
pipeline "ordered" {
  stage "script" "c" {}
  stage "script" "a" {}
  stage "script" "b" {}
}
`)

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	p := model.Pipelines[0]

	var names []string
	for _, s := range p.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestLoadMergesMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.hcl", `
pipeline "alpha" {
  stage "script" "only" {}
}
`)
	writeDefinition(t, dir, "b.hcl", `
pipeline "beta" {
  stage "script" "only" {}
}
`)

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Pipelines, 2)

	_, ok := model.Lookup("alpha")
	assert.True(t, ok)
	_, ok = model.Lookup("beta")
	assert.True(t, ok)
	_, ok = model.Lookup("gamma")
	assert.False(t, ok)
}

func TestLoadRejectsDuplicatePipeline(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.hcl", `pipeline "dup" {}`)
	writeDefinition(t, dir, "b.hcl", `pipeline "dup" {}`)

	_, err := NewLoader().Load(context.Background(), dir)
	assert.ErrorContains(t, err, `pipeline "dup" defined more than once`)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})

	t.Run("no definition files", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), t.TempDir())
		assert.ErrorContains(t, err, "no pipeline definition files")
	})

	t.Run("syntax error", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "broken.hcl", `pipeline "x" {`)
		_, err := NewLoader().Load(context.Background(), dir)
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("invalid max_duration", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "p.hcl", `
pipeline "x" {
  stage "script" "s" {
    max_duration = "fast"
  }
}
`)
		_, err := NewLoader().Load(context.Background(), dir)
		assert.ErrorContains(t, err, "invalid max_duration")
	})

	t.Run("negative parallel", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "p.hcl", `
pipeline "x" {
  stage "script" "s" {
    parallel = -1
  }
}
`)
		_, err := NewLoader().Load(context.Background(), dir)
		assert.ErrorContains(t, err, "parallel must not be negative")
	})

	t.Run("unknown failure policy", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "p.hcl", `
pipeline "x" {
  on_error = "explode"
}
`)
		_, err := NewLoader().Load(context.Background(), dir)
		assert.ErrorContains(t, err, "unknown failure policy")
	})
}
