// Package pkgmgr defines the boundary to the environment's package manager.
//
// An environment is referenced by an opaque string handle. The Manager
// interface is the only way the rest of the system inspects or mutates an
// environment, which keeps deployment and snapshot logic independent of how
// units are physically installed.
package pkgmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Unit is one installed software unit as reported by the package manager.
type Unit struct {
	Name         string   `yaml:"name" json:"name"`
	Version      string   `yaml:"version" json:"version"`
	ContentHash  string   `yaml:"hash,omitempty" json:"contentHash,omitempty"`
	Dependencies []string `yaml:"deps,omitempty" json:"dependencies,omitempty"`
}

// ConfigFile is a configuration file belonging to an environment. Path is
// relative to the environment root.
type ConfigFile struct {
	Path string
	Body []byte
}

// Manager abstracts the package manager controlling an environment.
//
// Implementations must make Install idempotent for an identical unit: the
// scheduler may re-run a stage after a crash, so installing a unit that is
// already present at the same version must succeed without side effects.
type Manager interface {
	// ListInstalled enumerates the units currently installed in env.
	ListInstalled(ctx context.Context, env string) ([]Unit, error)

	// ListConfigFiles returns the environment's configuration files with
	// their full contents.
	ListConfigFiles(ctx context.Context, env string) ([]ConfigFile, error)

	// Install makes the given unit present in env at exactly unit.Version.
	// A differing installed version of the same name is replaced.
	Install(ctx context.Context, env string, unit Unit) error

	// Remove deletes the named unit from env. Removing a unit that is not
	// installed is not an error.
	Remove(ctx context.Context, env string, name string) error
}

// HashUnit derives a stable content hash for a unit from its identity and
// direct dependencies. Local installations that have no richer notion of
// content use it so that equal units always carry equal hashes.
func HashUnit(u Unit) string {
	deps := append([]string(nil), u.Dependencies...)
	sort.Strings(deps)
	h := sha256.New()
	h.Write([]byte(u.Name + "@" + u.Version + "\n" + strings.Join(deps, ",")))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// SortUnits orders units by name for stable listings.
func SortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
}
