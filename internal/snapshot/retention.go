package snapshot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetentionSchemaV1 identifies the retention policy file format.
const RetentionSchemaV1 = "stackforge.retention/v1"

// RetentionPolicy bounds how many unpinned snapshots survive a cleanup.
// Zero values disable the respective bound.
type RetentionPolicy struct {
	// MaxAge deletes snapshots created longer than this ago.
	MaxAge time.Duration

	// MaxCount keeps only the newest MaxCount snapshots.
	MaxCount int
}

// Validate rejects negative bounds and a policy with no bound at all, which
// would make a cleanup a silent no-op.
func (p RetentionPolicy) Validate() error {
	if p.MaxAge < 0 {
		return fmt.Errorf("retention: max_age must not be negative")
	}
	if p.MaxCount < 0 {
		return fmt.Errorf("retention: max_count must not be negative")
	}
	if p.MaxAge == 0 && p.MaxCount == 0 {
		return fmt.Errorf("retention: policy must set max_age or max_count")
	}
	return nil
}

// retentionSpec is the YAML document shape.
type retentionSpec struct {
	Schema   string `yaml:"schema"`
	MaxAge   string `yaml:"max_age,omitempty"`
	MaxCount int    `yaml:"max_count,omitempty"`
}

// ParseRetentionPolicy decodes and validates a policy document.
func ParseRetentionPolicy(data []byte) (RetentionPolicy, error) {
	var spec retentionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return RetentionPolicy{}, fmt.Errorf("retention: parsing policy: %w", err)
	}
	if spec.Schema != RetentionSchemaV1 {
		return RetentionPolicy{}, fmt.Errorf("retention: unsupported schema %q (want %q)", spec.Schema, RetentionSchemaV1)
	}

	var policy RetentionPolicy
	if spec.MaxAge != "" {
		d, err := time.ParseDuration(spec.MaxAge)
		if err != nil {
			return RetentionPolicy{}, fmt.Errorf("retention: invalid max_age %q: %w", spec.MaxAge, err)
		}
		policy.MaxAge = d
	}
	policy.MaxCount = spec.MaxCount

	if err := policy.Validate(); err != nil {
		return RetentionPolicy{}, err
	}
	return policy, nil
}

// LoadRetentionPolicy reads a policy file from disk.
func LoadRetentionPolicy(path string) (RetentionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RetentionPolicy{}, fmt.Errorf("retention: reading policy %q: %w", path, err)
	}
	return ParseRetentionPolicy(data)
}
