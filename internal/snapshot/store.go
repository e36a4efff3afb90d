package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stackforge-io/stackforge/internal/fsutil"
)

// FileStore persists snapshot records as JSON files under a root directory.
// Records never change after creation; the pin flag lives in a sidecar
// marker file so the record itself stays immutable.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("snapshot root is empty")
	}
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("creating snapshot root %q: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *FileStore) pinPath(id string) string {
	return filepath.Join(s.root, id+".pin")
}

// Save writes a new record. Saving an id that already exists is an error;
// callers that want deduplication check Exists first.
func (s *FileStore) Save(snap *Snapshot) error {
	if snap.ID == "" {
		return errors.New("snapshot id is empty")
	}
	if _, err := os.Stat(s.recordPath(snap.ID)); err == nil {
		return fmt.Errorf("snapshot %q already exists", snap.ID)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot %q: %w", snap.ID, err)
	}
	if err := fsutil.WriteFileAtomic(s.recordPath(snap.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %q: %w", snap.ID, err)
	}
	return nil
}

// Exists reports whether a record is present without loading it.
func (s *FileStore) Exists(id string) (bool, error) {
	_, err := os.Stat(s.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get loads one record and its pin state.
func (s *FileStore) Get(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %q: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %q: %w", id, err)
	}
	if _, err := os.Stat(s.pinPath(id)); err == nil {
		snap.Pinned = true
	}
	return &snap, nil
}

// List loads every record, oldest first; ties break on id.
func (s *FileStore) List() ([]*Snapshot, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot root: %w", err)
	}

	var out []*Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		snap, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetPinned flips the pin marker.
func (s *FileStore) SetPinned(id string, pinned bool) error {
	if ok, err := s.Exists(id); err != nil {
		return err
	} else if !ok {
		return &NotFoundError{ID: id}
	}
	if pinned {
		return fsutil.WriteFileAtomic(s.pinPath(id), []byte("pinned\n"), 0o644)
	}
	err := os.Remove(s.pinPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Delete removes a record and its pin marker.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", id, err)
	}
	if err := os.Remove(s.pinPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
