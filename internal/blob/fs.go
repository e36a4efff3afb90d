package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stackforge-io/stackforge/internal/fsutil"
)

// FSStore keeps objects as plain files under a root directory. Keys map to
// relative paths, so payloads stay inspectable with ordinary tools.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("blob: filesystem root is empty")
	}
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("blob: creating root %q: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("blob: reading payload for %q: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("blob: payload for %q is %d bytes, declared %d", key, len(data), size)
	}
	return fsutil.WriteFileAtomic(s.path(key), data, 0o644)
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob: %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: opening %q: %w", key, err)
	}
	return f, nil
}

func (s *FSStore) Stat(ctx context.Context, key string) (Info, error) {
	if err := validKey(key); err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, fmt.Errorf("blob: %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return Info{}, fmt.Errorf("blob: statting %q: %w", key, err)
	}
	return Info{Key: key, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
