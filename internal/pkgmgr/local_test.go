package pkgmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalManagerInstallListRemove(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()
	ctx := context.Background()

	units, err := mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	assert.Empty(t, units, "fresh environment should have no units")

	require.NoError(t, mgr.Install(ctx, env, Unit{Name: "zlib", Version: "1.3"}))
	require.NoError(t, mgr.Install(ctx, env, Unit{Name: "gcc", Version: "13.2.0", Dependencies: []string{"zlib"}}))

	units, err = mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "gcc", units[0].Name, "listing must be sorted by name")
	assert.Equal(t, "zlib", units[1].Name)
	assert.NotEmpty(t, units[0].ContentHash, "install must fill in a content hash")

	require.NoError(t, mgr.Remove(ctx, env, "zlib"))
	units, err = mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "gcc", units[0].Name)

	// Removing a unit that is not installed is a no-op.
	require.NoError(t, mgr.Remove(ctx, env, "zlib"))
}

func TestLocalManagerInstallIsIdempotent(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()
	ctx := context.Background()

	unit := Unit{Name: "cmake", Version: "3.27.1"}
	require.NoError(t, mgr.Install(ctx, env, unit))
	require.NoError(t, mgr.Install(ctx, env, unit))

	units, err := mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 1)
}

func TestLocalManagerInstallReplacesVersion(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()
	ctx := context.Background()

	require.NoError(t, mgr.Install(ctx, env, Unit{Name: "gcc", Version: "11.4.0"}))
	require.NoError(t, mgr.Install(ctx, env, Unit{Name: "gcc", Version: "13.2.0"}))

	units, err := mgr.ListInstalled(ctx, env)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "13.2.0", units[0].Version)
}

func TestLocalManagerValidation(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()
	ctx := context.Background()

	err := mgr.Install(ctx, env, Unit{Name: "", Version: "1.0"})
	assert.ErrorContains(t, err, "name is empty")

	err = mgr.Install(ctx, env, Unit{Name: "gcc"})
	assert.ErrorContains(t, err, "version must be pinned")

	_, err = mgr.ListInstalled(ctx, filepath.Join(env, "does-not-exist"))
	assert.Error(t, err)
}

func TestLocalManagerRejectsForeignManifest(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()

	bad := "schema: something.else/v9\nunits: []\n"
	require.NoError(t, os.WriteFile(filepath.Join(env, "manifest.yaml"), []byte(bad), 0o644))

	_, err := mgr.ListInstalled(context.Background(), env)
	assert.ErrorContains(t, err, "unsupported schema")
}

func TestLocalManagerConfigFiles(t *testing.T) {
	env := t.TempDir()
	mgr := NewLocalManager()
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(env, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env, "etc", "toolchains.conf"), []byte("cc=gcc\n"), 0o644))
	require.NoError(t, mgr.TrackConfigFile(env, "etc/toolchains.conf"))
	require.NoError(t, mgr.TrackConfigFile(env, "etc/toolchains.conf"), "tracking twice must not duplicate")

	files, err := mgr.ListConfigFiles(ctx, env)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "etc/toolchains.conf", files[0].Path)
	assert.Equal(t, "cc=gcc\n", string(files[0].Body))
}

func TestHashUnitStable(t *testing.T) {
	a := Unit{Name: "gcc", Version: "13.2.0", Dependencies: []string{"mpc", "zlib"}}
	b := Unit{Name: "gcc", Version: "13.2.0", Dependencies: []string{"zlib", "mpc"}}
	assert.Equal(t, HashUnit(a), HashUnit(b), "hash must not depend on dependency order")

	c := Unit{Name: "gcc", Version: "11.4.0"}
	assert.NotEqual(t, HashUnit(a), HashUnit(c))
}
