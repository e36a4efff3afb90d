// Package blob stores opaque artifact payloads under string keys.
//
// Two backends exist: a local filesystem store, which is the default, and an
// S3-compatible store for shared installations. Callers hold the Store
// interface and never know which one they got.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stackforge-io/stackforge/internal/envcfg"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Info describes a stored object.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store abstracts payload storage for deployment artifacts.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
}

// Backend names for Config.Backend.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config selects and parameterizes a blob backend.
type Config struct {
	Backend string

	// Filesystem backend.
	Root string

	// S3 backend.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// ConfigFromEnv reads the blob configuration from STACKFORGE_BLOB_* variables.
func ConfigFromEnv() (Config, error) {
	useSSL, err := envcfg.Bool("STACKFORGE_BLOB_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Backend:   envcfg.String("STACKFORGE_BLOB_BACKEND", BackendFS),
		Root:      envcfg.String("STACKFORGE_BLOB_ROOT", ""),
		Endpoint:  envcfg.String("STACKFORGE_BLOB_ENDPOINT", "localhost:9000"),
		AccessKey: envcfg.String("STACKFORGE_BLOB_ACCESS_KEY", ""),
		SecretKey: envcfg.String("STACKFORGE_BLOB_SECRET_KEY", ""),
		Region:    envcfg.String("STACKFORGE_BLOB_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    envcfg.String("STACKFORGE_BLOB_BUCKET", "stackforge-artifacts"),
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs. The
// filesystem root may stay empty here because the application fills in a
// default under its state root.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFS:
		return nil
	case BackendS3:
		if strings.TrimSpace(c.Endpoint) == "" {
			return errors.New("blob: endpoint is required")
		}
		if strings.Contains(c.Endpoint, "://") {
			return fmt.Errorf("blob: endpoint must not include scheme: %q", c.Endpoint)
		}
		if strings.TrimSpace(c.AccessKey) == "" {
			return errors.New("blob: access key is required")
		}
		if strings.TrimSpace(c.SecretKey) == "" {
			return errors.New("blob: secret key is required")
		}
		if strings.TrimSpace(c.Bucket) == "" {
			return errors.New("blob: bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("blob: unknown backend %q", c.Backend)
	}
}

// New builds the store selected by cfg.
func New(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendFS:
		return NewFSStore(cfg.Root)
	case BackendS3:
		return NewMinioStore(cfg)
	}
	return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
}

// validKey rejects keys that could escape a filesystem root or that S3
// would mangle. Keys are slash-separated relative paths.
func validKey(key string) error {
	if key == "" {
		return errors.New("blob: key is empty")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("blob: key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("blob: key %q has an invalid path segment", key)
		}
	}
	return nil
}
