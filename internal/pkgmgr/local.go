package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stackforge-io/stackforge/internal/fsutil"
)

// manifestSchema identifies the manifest format a local environment uses.
const manifestSchema = "stackforge.environment/v1"

// manifestFile is the well-known manifest name inside an environment root.
const manifestFile = "manifest.yaml"

// manifest is the on-disk YAML document describing a local environment.
type manifest struct {
	Schema      string   `yaml:"schema"`
	Units       []Unit   `yaml:"units"`
	ConfigFiles []string `yaml:"config_files,omitempty"`
}

// LocalManager manages environments that live as directories on the local
// filesystem. The environment handle is the directory path; the directory
// holds a manifest.yaml listing installed units and the relative paths of
// tracked configuration files.
//
// It doubles as a faithful stand-in for a real package manager in tests: all
// Manager semantics including Install idempotence hold.
type LocalManager struct {
	mu sync.Mutex
}

// NewLocalManager returns a Manager backed by per-directory manifests.
func NewLocalManager() *LocalManager {
	return &LocalManager{}
}

func (m *LocalManager) ListInstalled(ctx context.Context, env string) ([]Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(env)
	if err != nil {
		return nil, err
	}
	units := append([]Unit(nil), man.Units...)
	SortUnits(units)
	return units, nil
}

func (m *LocalManager) ListConfigFiles(ctx context.Context, env string) ([]ConfigFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(env)
	if err != nil {
		return nil, err
	}

	files := make([]ConfigFile, 0, len(man.ConfigFiles))
	for _, rel := range man.ConfigFiles {
		body, err := os.ReadFile(filepath.Join(env, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", rel, err)
		}
		files = append(files, ConfigFile{Path: rel, Body: body})
	}
	return files, nil
}

func (m *LocalManager) Install(ctx context.Context, env string, unit Unit) error {
	if unit.Name == "" {
		return fmt.Errorf("installing into %q: unit name is empty", env)
	}
	if unit.Version == "" {
		return fmt.Errorf("installing %q into %q: version must be pinned", unit.Name, env)
	}
	if unit.ContentHash == "" {
		unit.ContentHash = HashUnit(unit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(env)
	if err != nil {
		return err
	}

	replaced := false
	for i, u := range man.Units {
		if u.Name == unit.Name {
			man.Units[i] = unit
			replaced = true
			break
		}
	}
	if !replaced {
		man.Units = append(man.Units, unit)
	}
	return m.writeManifest(env, man)
}

func (m *LocalManager) Remove(ctx context.Context, env string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(env)
	if err != nil {
		return err
	}

	kept := man.Units[:0]
	for _, u := range man.Units {
		if u.Name != name {
			kept = append(kept, u)
		}
	}
	man.Units = kept
	return m.writeManifest(env, man)
}

// TrackConfigFile registers a relative path as part of the environment's
// tracked configuration. The file itself is not created.
func (m *LocalManager) TrackConfigFile(env string, rel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(env)
	if err != nil {
		return err
	}
	for _, existing := range man.ConfigFiles {
		if existing == rel {
			return nil
		}
	}
	man.ConfigFiles = append(man.ConfigFiles, rel)
	return m.writeManifest(env, man)
}

// readManifest loads and validates the manifest for env. A missing manifest
// in an existing directory is an empty environment; a missing directory is an
// error so that typos in environment handles surface early.
func (m *LocalManager) readManifest(env string) (*manifest, error) {
	if env == "" {
		return nil, errors.New("environment handle is empty")
	}
	info, err := os.Stat(env)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", env, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("environment %q is not a directory", env)
	}

	data, err := os.ReadFile(filepath.Join(env, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return &manifest{Schema: manifestSchema}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %q: %w", env, err)
	}

	var man manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parsing manifest for %q: %w", env, err)
	}
	if man.Schema != manifestSchema {
		return nil, fmt.Errorf("manifest for %q has unsupported schema %q", env, man.Schema)
	}
	seen := make(map[string]bool, len(man.Units))
	for _, u := range man.Units {
		if u.Name == "" {
			return nil, fmt.Errorf("manifest for %q lists a unit without a name", env)
		}
		if seen[u.Name] {
			return nil, fmt.Errorf("manifest for %q lists unit %q twice", env, u.Name)
		}
		seen[u.Name] = true
	}
	return &man, nil
}

func (m *LocalManager) writeManifest(env string, man *manifest) error {
	man.Schema = manifestSchema
	SortUnits(man.Units)
	data, err := yaml.Marshal(man)
	if err != nil {
		return fmt.Errorf("encoding manifest for %q: %w", env, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(env, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest for %q: %w", env, err)
	}
	return nil
}
