// Package unitspec defines the canonical textual form of a software unit
// reference ("name@version") and a strict parser for it.
package unitspec

import (
	"fmt"
	"strings"
)

// Spec identifies a software unit, optionally pinned to an exact version.
// The canonical textual form is "name@version"; a bare "name" leaves the
// version empty and refers to whatever version is installed.
type Spec struct {
	Name    string
	Version string
}

// Parse converts a raw reference like "gcc@13.2.0" or "cmake" into a Spec.
// It enforces the character set both sides of the separator must use, so a
// malformed reference is rejected at the boundary rather than deep inside an
// installation step.
func Parse(raw string) (Spec, error) {
	if raw == "" {
		return Spec{}, fmt.Errorf("unit reference is empty")
	}

	name := raw
	version := ""
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		name, version = raw[:i], raw[i+1:]
		if version == "" {
			return Spec{}, fmt.Errorf("unit reference %q has an empty version", raw)
		}
		if strings.ContainsRune(version, '@') {
			return Spec{}, fmt.Errorf("unit reference %q contains more than one '@'", raw)
		}
		if !validToken(version) {
			return Spec{}, fmt.Errorf("unit reference %q has an invalid version %q", raw, version)
		}
	}

	if name == "" {
		return Spec{}, fmt.Errorf("unit reference %q has an empty name", raw)
	}
	if !validToken(name) {
		return Spec{}, fmt.Errorf("unit reference %q has an invalid name %q", raw, name)
	}

	return Spec{Name: name, Version: version}, nil
}

// ParseAll parses a list of raw references, failing on the first invalid one.
func ParseAll(raw []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	for _, r := range raw {
		s, err := Parse(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// String renders the canonical form. It is the inverse of Parse for any
// Spec that Parse produced.
func (s Spec) String() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

// Pinned reports whether the spec names an exact version.
func (s Spec) Pinned() bool {
	return s.Version != ""
}

// validToken accepts letters, digits and the version punctuation commonly
// found in toolchain names ('.', '-', '_', '+').
func validToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_' || r == '+':
		default:
			return false
		}
	}
	return true
}
