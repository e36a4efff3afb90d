package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

// CreateOptions carries the caller-supplied metadata of a new snapshot.
type CreateOptions struct {
	Description string
	Tags        []string
}

// Action is one kind of change a restore applies.
type Action string

const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionReplace Action = "replace"
)

// PlannedChange is one unit-level step of a restore plan.
type PlannedChange struct {
	Action Action      `json:"action"`
	Unit   pkgmgr.Unit `json:"unit"`

	// Previous holds the currently installed unit for replace actions.
	Previous *pkgmgr.Unit `json:"previous,omitempty"`
}

// RestoreReport describes what a restore planned and what it applied. For a
// dry run, Applied stays empty and the environment is untouched.
type RestoreReport struct {
	SnapshotID  string          `json:"snapshotId"`
	Environment string          `json:"environment"`
	DryRun      bool            `json:"dryRun"`
	Planned     []PlannedChange `json:"planned"`
	Applied     []PlannedChange `json:"applied,omitempty"`
	Failed      []*UnitError    `json:"failed,omitempty"`
}

// CleanupReport lists what a retention sweep removed.
type CleanupReport struct {
	Deleted []string `json:"deleted"`
	Kept    int      `json:"kept"`
	Pinned  int      `json:"pinned"`
}

// Manager implements snapshot lifecycle operations on top of a record store
// and the environment's package manager. Callers are responsible for holding
// the environment lock around mutating operations.
type Manager struct {
	store    *FileStore
	mgr      pkgmgr.Manager
	idPolicy string

	now   func() time.Time
	newID func() string
}

// NewManager validates the id policy and wires the manager.
func NewManager(store *FileStore, mgr pkgmgr.Manager, idPolicy string) (*Manager, error) {
	switch idPolicy {
	case IDPolicyRandom, IDPolicyContent:
	case "":
		idPolicy = IDPolicyRandom
	default:
		return nil, fmt.Errorf("unknown snapshot id policy %q", idPolicy)
	}
	return &Manager{
		store:    store,
		mgr:      mgr,
		idPolicy: idPolicy,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}, nil
}

// Create captures the current state of env. Under the content id policy,
// capturing a state that is already recorded returns the existing snapshot
// instead of writing a duplicate.
func (m *Manager) Create(ctx context.Context, env string, opts CreateOptions) (*Snapshot, error) {
	logger := ctxlog.FromContext(ctx).With("environment", env)

	units, err := m.mgr.ListInstalled(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	pkgmgr.SortUnits(units)

	files, err := m.mgr.ListConfigFiles(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	configs := make([]ConfigRecord, 0, len(files))
	for _, f := range files {
		configs = append(configs, ConfigRecord{Path: f.Path, Digest: digest(f.Body), Body: f.Body})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Path < configs[j].Path })

	snap := &Snapshot{
		CreatedAt:   m.now(),
		Environment: env,
		Description: opts.Description,
		Tags:        append([]string(nil), opts.Tags...),
		Units:       units,
		ConfigFiles: configs,
	}

	switch m.idPolicy {
	case IDPolicyContent:
		snap.ID = contentID(env, units, configs)
		if exists, err := m.store.Exists(snap.ID); err != nil {
			return nil, err
		} else if exists {
			logger.Debug("snapshot content unchanged, reusing record", "snapshot_id", snap.ID)
			return m.store.Get(snap.ID)
		}
	default:
		snap.ID = m.newID()
	}

	if err := m.store.Save(snap); err != nil {
		return nil, err
	}
	logger.Info("snapshot created", "snapshot_id", snap.ID, "units", len(units), "config_files", len(configs))
	return snap, nil
}

// Get loads one snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*Snapshot, error) {
	return m.store.Get(id)
}

// List returns all snapshots, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Snapshot, error) {
	return m.store.List()
}

// Diff compares two recorded snapshots. The result describes how to get
// from the first to the second.
func (m *Manager) Diff(ctx context.Context, fromID, toID string) (Diff, error) {
	from, err := m.store.Get(fromID)
	if err != nil {
		return Diff{}, err
	}
	to, err := m.store.Get(toID)
	if err != nil {
		return Diff{}, err
	}
	return diffUnits(from.Units, to.Units), nil
}

// Restore brings env back to the state recorded in snapshot id. The plan is
// the diff between the live environment and the record; each unit change is
// applied independently and failures are collected, not short-circuited.
// With dryRun set, the plan is returned and nothing is touched.
func (m *Manager) Restore(ctx context.Context, env, id string, dryRun bool) (*RestoreReport, error) {
	logger := ctxlog.FromContext(ctx).With("environment", env, "snapshot_id", id)

	target, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	current, err := m.mgr.ListInstalled(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("restore: enumerating %q: %w", env, err)
	}

	report := &RestoreReport{
		SnapshotID:  id,
		Environment: env,
		DryRun:      dryRun,
		Planned:     planRestore(diffUnits(current, target.Units)),
	}
	if dryRun {
		logger.Info("restore dry run", "planned_changes", len(report.Planned))
		return report, nil
	}

	for _, change := range report.Planned {
		var err error
		switch change.Action {
		case ActionRemove:
			err = m.mgr.Remove(ctx, env, change.Unit.Name)
		default:
			err = m.mgr.Install(ctx, env, change.Unit)
		}
		if err != nil {
			report.Failed = append(report.Failed, &UnitError{
				Unit:   change.Unit.Name + "@" + change.Unit.Version,
				Action: change.Action,
				Err:    err,
			})
			continue
		}
		report.Applied = append(report.Applied, change)
	}

	if len(report.Failed) > 0 {
		logger.Warn("restore finished with failures",
			"applied", len(report.Applied), "failed", len(report.Failed))
		return report, &RestoreError{SnapshotID: id, Failures: report.Failed}
	}
	logger.Info("restore complete", "applied", len(report.Applied))
	return report, nil
}

// planRestore orders a diff into concrete steps: removals first, then
// installs and replacements, each group sorted by unit name.
func planRestore(d Diff) []PlannedChange {
	var plan []PlannedChange
	for _, u := range d.Removed {
		plan = append(plan, PlannedChange{Action: ActionRemove, Unit: u})
	}
	for _, u := range d.Added {
		plan = append(plan, PlannedChange{Action: ActionInstall, Unit: u})
	}
	for _, mu := range d.Modified {
		prev := mu.From
		plan = append(plan, PlannedChange{Action: ActionReplace, Unit: mu.To, Previous: &prev})
	}
	return plan
}

// Pin marks or unmarks a snapshot as exempt from retention cleanup.
func (m *Manager) Pin(ctx context.Context, id string, pinned bool) error {
	return m.store.SetPinned(id, pinned)
}

// Delete removes a snapshot record. Pinned snapshots must be unpinned first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	snap, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if snap.Pinned {
		return fmt.Errorf("snapshot %q is pinned and cannot be deleted", id)
	}
	return m.store.Delete(id)
}

// Cleanup applies a retention policy: unpinned snapshots beyond the newest
// MaxCount or older than MaxAge are deleted. Pinned snapshots are exempt and
// do not count toward the limit.
func (m *Manager) Cleanup(ctx context.Context, policy RetentionPolicy) (*CleanupReport, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	all, err := m.store.List()
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{}
	var candidates []*Snapshot
	for _, snap := range all {
		if snap.Pinned {
			report.Pinned++
			continue
		}
		candidates = append(candidates, snap)
	}

	// Newest first, so index >= MaxCount marks the overflow.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	cutoff := time.Time{}
	if policy.MaxAge > 0 {
		cutoff = m.now().Add(-policy.MaxAge)
	}

	for i, snap := range candidates {
		overCount := policy.MaxCount > 0 && i >= policy.MaxCount
		overAge := !cutoff.IsZero() && snap.CreatedAt.Before(cutoff)
		if !overCount && !overAge {
			report.Kept++
			continue
		}
		if err := m.store.Delete(snap.ID); err != nil {
			return nil, err
		}
		report.Deleted = append(report.Deleted, snap.ID)
	}

	ctxlog.FromContext(ctx).Info("snapshot cleanup complete",
		"deleted", len(report.Deleted), "kept", report.Kept, "pinned", report.Pinned)
	return report, nil
}
