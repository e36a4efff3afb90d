package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

func newTestManager(t *testing.T, idPolicy string) (*Manager, string, *pkgmgr.LocalManager) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	mgr := pkgmgr.NewLocalManager()
	m, err := NewManager(store, mgr, idPolicy)
	require.NoError(t, err)
	env := t.TempDir()
	return m, env, mgr
}

func install(t *testing.T, mgr pkgmgr.Manager, env, name, version string, deps ...string) {
	t.Helper()
	require.NoError(t, mgr.Install(context.Background(), env, pkgmgr.Unit{
		Name: name, Version: version, Dependencies: deps,
	}))
}

func TestCreateCapturesState(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "zlib", "1.3")
	install(t, mgr, env, "gcc", "13.2.0", "zlib")
	require.NoError(t, os.MkdirAll(filepath.Join(env, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env, "etc", "cc.conf"), []byte("cc=gcc\n"), 0o644))
	require.NoError(t, mgr.TrackConfigFile(env, "etc/cc.conf"))

	snap, err := m.Create(ctx, env, CreateOptions{Description: "before rollout", Tags: []string{"release"}})
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.CreatedAt.IsZero())
	assert.Equal(t, env, snap.Environment)
	assert.Equal(t, "before rollout", snap.Description)

	require.Len(t, snap.Units, 2)
	assert.Equal(t, "gcc", snap.Units[0].Name, "units are sorted by name")
	assert.Equal(t, []string{"zlib"}, snap.Units[0].Dependencies)
	assert.NotEmpty(t, snap.Units[0].ContentHash)

	require.Len(t, snap.ConfigFiles, 1)
	assert.Equal(t, "etc/cc.conf", snap.ConfigFiles[0].Path)
	assert.Equal(t, "cc=gcc\n", string(snap.ConfigFiles[0].Body))
	assert.Contains(t, snap.ConfigFiles[0].Digest, "sha256:")

	// The record round-trips through the store.
	loaded, err := m.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Units, loaded.Units)
}

func TestCreateContentPolicyDeduplicates(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyContent)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")

	first, err := m.Create(ctx, env, CreateOptions{Description: "first"})
	require.NoError(t, err)
	second, err := m.Create(ctx, env, CreateOptions{Description: "second"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "unchanged environment snapshots to the same id")
	assert.Equal(t, "first", second.Description, "the original record wins")

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Changing the environment changes the id.
	install(t, mgr, env, "cmake", "3.27.1")
	third, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateRandomPolicyAlwaysNewRecord(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")

	first, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)
	second, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDiffUpgradeScenario(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "11.4.0")
	install(t, mgr, env, "python", "3.11.8")
	before, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	install(t, mgr, env, "gcc", "13.2.0")
	install(t, mgr, env, "cmake", "3.27.1")
	after, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	diff, err := m.Diff(ctx, before.ID, after.ID)
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "cmake", diff.Added[0].Name)
	assert.Equal(t, "3.27.1", diff.Added[0].Version)

	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "gcc", diff.Modified[0].Name)
	assert.Equal(t, "11.4.0", diff.Modified[0].From.Version)
	assert.Equal(t, "13.2.0", diff.Modified[0].To.Version)

	assert.Empty(t, diff.Removed, "python is untouched and must not appear")
	assert.False(t, diff.Empty())
}

func TestDiffIsDirectional(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "11.4.0")
	a, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	install(t, mgr, env, "cmake", "3.27.1")
	b, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	forward, err := m.Diff(ctx, a.ID, b.ID)
	require.NoError(t, err)
	backward, err := m.Diff(ctx, b.ID, a.ID)
	require.NoError(t, err)

	require.Len(t, forward.Added, 1)
	assert.Equal(t, "cmake", forward.Added[0].Name)
	require.Len(t, backward.Removed, 1)
	assert.Equal(t, "cmake", backward.Removed[0].Name)
}

func TestDiffIdenticalSnapshotsEmpty(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")
	a, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)
	b, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	diff, err := m.Diff(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestDiffUnknownSnapshot(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")
	a, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	_, err = m.Diff(ctx, a.ID, "ghost")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)
}

func TestRestoreBringsEnvironmentBack(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "11.4.0")
	install(t, mgr, env, "python", "3.11.8")
	snap, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	// Drift: upgrade gcc, drop python, add cmake.
	install(t, mgr, env, "gcc", "13.2.0")
	require.NoError(t, mgr.Remove(ctx, env, "python"))
	install(t, mgr, env, "cmake", "3.27.1")

	report, err := m.Restore(ctx, env, snap.ID, false)
	require.NoError(t, err)
	assert.Len(t, report.Planned, 3)
	assert.Len(t, report.Applied, 3)
	assert.Empty(t, report.Failed)

	units, err := mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "gcc", units[0].Name)
	assert.Equal(t, "11.4.0", units[0].Version)
	assert.Equal(t, "python", units[1].Name)
}

func TestRestoreDryRunDoesNotMutate(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "11.4.0")
	snap, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	install(t, mgr, env, "gcc", "13.2.0")

	report, err := m.Restore(ctx, env, snap.ID, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	require.Len(t, report.Planned, 1)
	assert.Equal(t, ActionReplace, report.Planned[0].Action)
	assert.Empty(t, report.Applied)

	units, err := mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "13.2.0", units[0].Version, "dry run must leave the environment untouched")
}

func TestRestoreOnMatchingEnvironmentIsNoop(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")
	snap, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	report, err := m.Restore(ctx, env, snap.ID, false)
	require.NoError(t, err)
	assert.Empty(t, report.Planned)
	assert.Empty(t, report.Applied)
}

// flakyManager fails selected operations to exercise partial restores.
type flakyManager struct {
	pkgmgr.Manager
	failInstall map[string]bool
}

func (f *flakyManager) Install(ctx context.Context, env string, unit pkgmgr.Unit) error {
	if f.failInstall[unit.Name] {
		return fmt.Errorf("mirror unreachable for %s", unit.Name)
	}
	return f.Manager.Install(ctx, env, unit)
}

func TestRestorePartialFailureIsCollected(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	local := pkgmgr.NewLocalManager()
	flaky := &flakyManager{Manager: local, failInstall: map[string]bool{"gcc": true}}
	m, err := NewManager(store, flaky, IDPolicyRandom)
	require.NoError(t, err)

	env := t.TempDir()
	ctx := context.Background()

	install(t, local, env, "gcc", "11.4.0")
	install(t, local, env, "python", "3.11.8")
	snap, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, local.Remove(ctx, env, "gcc"))
	require.NoError(t, local.Remove(ctx, env, "python"))

	report, err := m.Restore(ctx, env, snap.ID, false)

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	require.Len(t, restoreErr.Failures, 1)
	assert.Equal(t, "gcc@11.4.0", restoreErr.Failures[0].Unit)
	assert.Equal(t, ActionInstall, restoreErr.Failures[0].Action)

	// The other unit was still restored.
	require.NotNil(t, report)
	assert.Len(t, report.Applied, 1)
	units, err := local.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "python", units[0].Name)
}

func TestPinBlocksDelete(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()

	install(t, mgr, env, "gcc", "13.2.0")
	snap, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Pin(ctx, snap.ID, true))
	err = m.Delete(ctx, snap.ID)
	assert.ErrorContains(t, err, "pinned")

	require.NoError(t, m.Pin(ctx, snap.ID, false))
	require.NoError(t, m.Delete(ctx, snap.ID))

	_, err = m.Get(ctx, snap.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCleanupByCount(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()
	install(t, mgr, env, "gcc", "13.2.0")

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		snap, err := m.Create(ctx, env, CreateOptions{})
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	report, err := m.Cleanup(ctx, RetentionPolicy{MaxCount: 2})
	require.NoError(t, err)

	assert.ElementsMatch(t, ids[:3], report.Deleted, "the three oldest are removed")
	assert.Equal(t, 2, report.Kept)

	left, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)
}

func TestCleanupByAge(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()
	install(t, mgr, env, "gcc", "13.2.0")

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return now.Add(-72 * time.Hour) }
	old, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(-time.Hour) }
	fresh, err := m.Create(ctx, env, CreateOptions{})
	require.NoError(t, err)

	m.now = func() time.Time { return now }
	report, err := m.Cleanup(ctx, RetentionPolicy{MaxAge: 48 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, []string{old.ID}, report.Deleted)
	_, err = m.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestCleanupSparesPinned(t *testing.T) {
	m, env, mgr := newTestManager(t, IDPolicyRandom)
	ctx := context.Background()
	install(t, mgr, env, "gcc", "13.2.0")

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		snap, err := m.Create(ctx, env, CreateOptions{})
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}
	require.NoError(t, m.Pin(ctx, ids[0], true))

	report, err := m.Cleanup(ctx, RetentionPolicy{MaxCount: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pinned)
	assert.ElementsMatch(t, []string{ids[1]}, report.Deleted)

	// Pinned oldest survives alongside the newest unpinned.
	_, err = m.Get(ctx, ids[0])
	assert.NoError(t, err)
	_, err = m.Get(ctx, ids[2])
	assert.NoError(t, err)
}

func TestCleanupRejectsUnboundedPolicy(t *testing.T) {
	m, _, _ := newTestManager(t, IDPolicyRandom)
	_, err := m.Cleanup(context.Background(), RetentionPolicy{})
	assert.ErrorContains(t, err, "max_age or max_count")
}

func TestNewManagerRejectsUnknownPolicy(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = NewManager(store, pkgmgr.NewLocalManager(), "sequential")
	assert.ErrorContains(t, err, "unknown snapshot id policy")
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	m, env, _ := newTestManager(t, IDPolicyRandom)
	_, err := m.Restore(context.Background(), env, "ghost", false)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)
}
