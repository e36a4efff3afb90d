package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/fsutil"
	"github.com/stackforge-io/stackforge/internal/run"
)

const (
	headerFile  = "run.json"
	journalFile = "journal.jsonl"
)

// journalEntry is one appended line in a run's journal file.
type journalEntry struct {
	Kind       string             `json:"kind"` // "transition" or "artifact"
	Transition *Transition        `json:"transition,omitempty"`
	Artifact   *artifact.Artifact `json:"artifact,omitempty"`
}

// Journal is the filesystem Tracker. Each run owns a directory holding an
// atomically rewritten header plus an append-only journal of transitions and
// artifact registrations. Appends are fsynced before they return.
type Journal struct {
	root string

	mu   sync.Mutex
	open map[string]*os.File
}

// NewJournal creates the journal root if needed.
func NewJournal(root string) (*Journal, error) {
	if root == "" {
		return nil, errors.New("journal root is empty")
	}
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("creating journal root %q: %w", root, err)
	}
	return &Journal{root: root, open: make(map[string]*os.File)}, nil
}

func (j *Journal) runDir(runID string) string {
	return filepath.Join(j.root, runID)
}

func (j *Journal) Begin(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("run id is empty")
	}
	dir := j.runDir(rec.ID)
	if _, err := os.Stat(filepath.Join(dir, headerFile)); err == nil {
		return fmt.Errorf("run %q already exists", rec.ID)
	}
	return j.writeHeader(rec)
}

func (j *Journal) writeHeader(rec RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run header: %w", err)
	}
	path := filepath.Join(j.runDir(rec.ID), headerFile)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run header: %w", err)
	}
	return nil
}

func (j *Journal) RecordTransition(ctx context.Context, runID string, t Transition) error {
	return j.append(runID, journalEntry{Kind: "transition", Transition: &t})
}

func (j *Journal) RecordArtifact(ctx context.Context, runID string, a artifact.Artifact) error {
	return j.append(runID, journalEntry{Kind: "artifact", Artifact: &a})
}

// append writes one journal line and syncs it to disk before returning.
func (j *Journal) append(runID string, entry journalEntry) error {
	f, err := j.file(runID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to journal of run %q: %w", runID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing journal of run %q: %w", runID, err)
	}
	return nil
}

func (j *Journal) file(runID string) (*os.File, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if f, ok := j.open[runID]; ok {
		return f, nil
	}
	dir := j.runDir(runID)
	if _, err := os.Stat(filepath.Join(dir, headerFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, journalFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal of run %q: %w", runID, err)
	}
	j.open[runID] = f
	return f, nil
}

func (j *Journal) Finish(ctx context.Context, runID string, status run.Status, at time.Time) error {
	rec, err := j.readHeader(runID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.FinishedAt = &at
	if err := j.writeHeader(*rec); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if f, ok := j.open[runID]; ok {
		delete(j.open, runID)
		return f.Close()
	}
	return nil
}

func (j *Journal) readHeader(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(j.runDir(runID), headerFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of run %q: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding header of run %q: %w", runID, err)
	}
	return &rec, nil
}

func (j *Journal) Load(ctx context.Context, runID string) (*RunState, error) {
	rec, err := j.readHeader(runID)
	if err != nil {
		return nil, err
	}

	st := &RunState{
		Record: *rec,
		Stages: make(map[string]run.StageStatus),
	}

	f, err := os.Open(filepath.Join(j.runDir(runID), journalFile))
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal of run %q: %w", runID, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal of run %q: %w", runID, err)
	}

	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line is the expected shape of a crash mid
			// append; anything earlier means real corruption.
			if i == len(lines)-1 {
				ctxlog.FromContext(ctx).Warn("dropping torn trailing journal line",
					"run_id", runID, "line", i+1)
				break
			}
			return nil, fmt.Errorf("journal of run %q is corrupted at line %d: %w", runID, i+1, err)
		}
		switch entry.Kind {
		case "transition":
			if entry.Transition == nil {
				return nil, fmt.Errorf("journal of run %q has a transition entry without a body at line %d", runID, i+1)
			}
			st.History = append(st.History, *entry.Transition)
			st.Stages[entry.Transition.Stage] = entry.Transition.To
		case "artifact":
			if entry.Artifact == nil {
				return nil, fmt.Errorf("journal of run %q has an artifact entry without a body at line %d", runID, i+1)
			}
			st.Artifacts = append(st.Artifacts, *entry.Artifact)
		default:
			return nil, fmt.Errorf("journal of run %q has an unknown entry kind %q at line %d", runID, entry.Kind, i+1)
		}
	}
	return st, nil
}

func (j *Journal) List(ctx context.Context) ([]RunRecord, error) {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		return nil, fmt.Errorf("listing journal root: %w", err)
	}

	var out []RunRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := j.readHeader(e.Name())
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	for id, f := range j.open {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(j.open, id)
	}
	return firstErr
}
