package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stackforge-io/stackforge/internal/blob"
	"github.com/stackforge-io/stackforge/internal/config"
	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/envlock"
	"github.com/stackforge-io/stackforge/internal/executor"
	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
	"github.com/stackforge-io/stackforge/internal/runstore"
	"github.com/stackforge-io/stackforge/internal/snapshot"
	"github.com/stackforge-io/stackforge/internal/state"
)

// App holds the wired dependencies of one stackforge process. Construction
// is side-effecting: it opens the run tracker and creates the state
// directories, so a successful New means the process can operate.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	settings *config.Settings
	tracker  state.Tracker
	orch     *orchestrator.Orchestrator
	health   *http.Server
}

// New builds a fully wired App from validated settings. The tracker backend
// follows Settings.DatabaseURL: Postgres when set, the filesystem journal
// under the state root otherwise.
func New(ctx context.Context, outW io.Writer, settings *config.Settings) (*App, error) {
	logger := newLogger(settings.LogLevel, settings.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("logger configured", "level", settings.LogLevel, "format", settings.LogFormat)

	var (
		tracker state.Tracker
		backend string
		err     error
	)
	if settings.DatabaseURL != "" {
		backend = "postgres"
		tracker, err = state.OpenPG(ctx, settings.DatabaseURL)
	} else {
		backend = "journal"
		tracker, err = state.NewJournal(settings.RunsRoot())
	}
	if err != nil {
		return nil, fmt.Errorf("opening run tracker: %w", err)
	}
	logger.Debug("run tracker ready", "backend", backend)

	blobs, err := blob.New(settings.Blob)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	packages := pkgmgr.NewLocalManager()

	snapStore, err := snapshot.NewFileStore(settings.SnapshotRoot)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	snapshots, err := snapshot.NewManager(snapStore, packages, settings.SnapshotIDPolicy)
	if err != nil {
		tracker.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Params{
		Settings:       settings,
		Loader:         config.NewLoader(),
		Registry:       executor.DefaultRegistry(),
		Tracker:        tracker,
		Blobs:          blobs,
		PackageManager: packages,
		Snapshots:      snapshots,
		Locks:          envlock.NewRegistry(),
		Runs:           runstore.New(),
	})
	if err != nil {
		tracker.Close()
		return nil, err
	}
	logger.Debug("orchestrator wired")

	return &App{
		outW:     outW,
		logger:   logger,
		settings: settings,
		tracker:  tracker,
		orch:     orch,
	}, nil
}

// Orchestrator returns the wired orchestrator for command handlers.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Context attaches the app's logger, so downstream packages log through it.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Close releases the app's resources: the health check server when one is
// running, then the run tracker.
func (a *App) Close() error {
	if err := a.closeHealthcheck(); err != nil {
		a.logger.Error("health check server shutdown failed", "error", err)
	}
	return a.tracker.Close()
}
