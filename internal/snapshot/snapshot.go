// Package snapshot captures, compares and restores environment states.
//
// A snapshot is an immutable record of every installed unit and tracked
// configuration file of one environment at one point in time. Snapshots are
// the unit of rollback: restoring one computes the difference between the
// live environment and the record and replays it through the package
// manager.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

// Identifier policies for newly created snapshots.
const (
	// IDPolicyRandom assigns an opaque unique id per snapshot.
	IDPolicyRandom = "random"

	// IDPolicyContent derives the id from the captured state, so capturing
	// an unchanged environment twice yields the same snapshot.
	IDPolicyContent = "content"
)

// ConfigRecord is a captured configuration file: its environment-relative
// path, the SHA-256 digest of its contents, and the contents themselves.
type ConfigRecord struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Body   []byte `json:"body"`
}

// Snapshot is one captured environment state. Units are sorted by name and
// config records by path, which makes equality and hashing order-free.
type Snapshot struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	Environment string         `json:"environment"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Units       []pkgmgr.Unit  `json:"units"`
	ConfigFiles []ConfigRecord `json:"configFiles,omitempty"`

	// Pinned is retention metadata kept outside the immutable record.
	Pinned bool `json:"-"`
}

// NotFoundError reports a reference to a snapshot id that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot %q not found", e.ID)
}

// UnitError reports the failure of one unit operation during a restore.
// Restores are per-unit independent, so one of these never aborts the rest
// of the plan.
type UnitError struct {
	Unit   string // canonical name@version form
	Action Action
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("restore: %s of unit %s failed: %v", e.Action, e.Unit, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// RestoreError aggregates the per-unit failures of one restore.
type RestoreError struct {
	SnapshotID string
	Failures   []*UnitError
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore of snapshot %q completed with %d failed unit(s)", e.SnapshotID, len(e.Failures))
}

func (e *RestoreError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// digest computes the SHA-256 digest of a config file body.
func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// contentID derives the content-addressed identifier of a captured state.
// Identity covers the environment handle, every unit (name, version, hash,
// direct dependencies) and every config record; description and tags are
// metadata and deliberately excluded.
func contentID(env string, units []pkgmgr.Unit, configs []ConfigRecord) string {
	var b strings.Builder
	b.WriteString(env)
	b.WriteByte('\n')
	for _, u := range units {
		deps := append([]string(nil), u.Dependencies...)
		sort.Strings(deps)
		fmt.Fprintf(&b, "unit %s@%s %s %s\n", u.Name, u.Version, u.ContentHash, strings.Join(deps, ","))
	}
	for _, c := range configs {
		fmt.Fprintf(&b, "config %s %s\n", c.Path, c.Digest)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
