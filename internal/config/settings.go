package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/stackforge-io/stackforge/internal/blob"
	"github.com/stackforge-io/stackforge/internal/envcfg"
	"github.com/stackforge-io/stackforge/internal/run"
)

// DefaultConcurrency bounds simultaneous stage executions when nothing else
// is configured.
const DefaultConcurrency = 4

// Snapshot identifier policies.
const (
	SnapshotIDRandom  = "random"
	SnapshotIDContent = "content"
)

// Settings is the process-wide configuration, read from STACKFORGE_*
// environment variables and overridable by command-line flags.
type Settings struct {
	// StateRoot is where run journals, snapshots and default blob storage
	// live.
	StateRoot string

	// SnapshotRoot overrides where snapshot records are kept. Empty means
	// <StateRoot>/snapshots.
	SnapshotRoot string

	// ModulefileRoot overrides where generated modulefiles are written.
	// Empty means <StateRoot>/modulefiles.
	ModulefileRoot string

	// Environment is the default environment handle used when neither the
	// pipeline nor the command line names one.
	Environment string

	// Concurrency is the global bound on simultaneously running stages.
	Concurrency int

	// FailurePolicy applies to pipelines that do not set on_error.
	FailurePolicy run.FailurePolicy

	// SnapshotIDPolicy selects how snapshot identifiers are derived:
	// "random" for opaque unique ids, "content" for content-addressed ids
	// that deduplicate identical environment states.
	SnapshotIDPolicy string

	// Mirrors lists registry URLs executors may install units from.
	Mirrors []string

	// RestoreOnFailure rolls the environment back to the pre-deployment
	// snapshot when a run fails.
	RestoreOnFailure bool

	// DatabaseURL switches run state tracking from the filesystem journal
	// to Postgres when non-empty.
	DatabaseURL string

	LogLevel  string
	LogFormat string

	Blob blob.Config
}

// SettingsFromEnv assembles Settings from the environment, applying
// defaults. The result is not yet validated: callers overlay command-line
// flags first and then call Validate, so derived paths follow the final
// state root rather than the environment's.
func SettingsFromEnv() (Settings, error) {
	concurrency, err := envcfg.Int("STACKFORGE_CONCURRENCY", DefaultConcurrency)
	if err != nil {
		return Settings{}, err
	}
	restore, err := envcfg.Bool("STACKFORGE_RESTORE_ON_FAILURE", false)
	if err != nil {
		return Settings{}, err
	}
	policy, err := run.ParseFailurePolicy(envcfg.String("STACKFORGE_ON_ERROR", ""))
	if err != nil {
		return Settings{}, err
	}
	blobCfg, err := blob.ConfigFromEnv()
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		StateRoot:        envcfg.String("STACKFORGE_STATE_ROOT", ".stackforge"),
		SnapshotRoot:     envcfg.String("STACKFORGE_SNAPSHOT_ROOT", ""),
		ModulefileRoot:   envcfg.String("STACKFORGE_MODULEFILE_ROOT", ""),
		Environment:      envcfg.String("STACKFORGE_ENVIRONMENT", ""),
		Concurrency:      concurrency,
		FailurePolicy:    policy,
		SnapshotIDPolicy: envcfg.String("STACKFORGE_SNAPSHOT_ID_POLICY", SnapshotIDRandom),
		Mirrors:          envcfg.List("STACKFORGE_MIRRORS", nil),
		RestoreOnFailure: restore,
		DatabaseURL:      envcfg.String("STACKFORGE_DATABASE_URL", ""),
		LogLevel:         envcfg.String("STACKFORGE_LOG_LEVEL", "info"),
		LogFormat:        envcfg.String("STACKFORGE_LOG_FORMAT", "text"),
		Blob:             blobCfg,
	}
	return s, nil
}

// Validate normalizes derived paths and rejects inconsistent settings.
func (s *Settings) Validate() error {
	if s.StateRoot == "" {
		return errors.New("state root must not be empty")
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", s.Concurrency)
	}
	if _, err := run.ParseFailurePolicy(string(s.FailurePolicy)); err != nil {
		return err
	}
	switch s.SnapshotIDPolicy {
	case SnapshotIDRandom, SnapshotIDContent:
	default:
		return fmt.Errorf("unknown snapshot id policy %q (want %q or %q)",
			s.SnapshotIDPolicy, SnapshotIDRandom, SnapshotIDContent)
	}

	if s.SnapshotRoot == "" {
		s.SnapshotRoot = filepath.Join(s.StateRoot, "snapshots")
	}
	if s.ModulefileRoot == "" {
		s.ModulefileRoot = filepath.Join(s.StateRoot, "modulefiles")
	}
	if s.Blob.Backend == "" {
		s.Blob.Backend = blob.BackendFS
	}
	if s.Blob.Backend == blob.BackendFS && s.Blob.Root == "" {
		s.Blob.Root = filepath.Join(s.StateRoot, "blobs")
	}
	return s.Blob.Validate()
}

// RunsRoot is where per-run journals live.
func (s *Settings) RunsRoot() string {
	return filepath.Join(s.StateRoot, "runs")
}

// WorkRoot is the scratch space stages execute in, one subdirectory per run.
func (s *Settings) WorkRoot() string {
	return filepath.Join(s.StateRoot, "work")
}
