// Package artifact implements the in-run artifact store. Stages publish
// named artifacts when they succeed; downstream stages may read exactly the
// artifacts produced by stages they transitively depend on. The dependency
// graph is the sole source of that authorization, there is no separate ACL.
package artifact

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stackforge-io/stackforge/internal/dag"
)

// Artifact is a named, immutable output of a stage. Ref is an opaque payload
// reference, typically a blob store key; the store never dereferences it.
type Artifact struct {
	Name      string    `json:"name"`
	Producer  string    `json:"producer"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"createdAt"`
}

// DuplicateError reports an attempt by one stage to claim an artifact name
// another stage already registered.
type DuplicateError struct {
	Name     string
	Producer string
	Claimant string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("artifact %q already registered by stage %q, rejected for stage %q",
		e.Name, e.Producer, e.Claimant)
}

// UnauthorizedError reports a stage reading an artifact produced outside its
// transitive dependency closure.
type UnauthorizedError struct {
	Name     string
	Producer string
	Consumer string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("stage %q is not authorized to read artifact %q: producer %q is not among its dependencies",
		e.Consumer, e.Name, e.Producer)
}

// NotFoundError reports a read of an artifact nothing has registered.
type NotFoundError struct {
	Name     string
	Consumer string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q requested by stage %q is not registered", e.Name, e.Consumer)
}

// Store holds the artifacts of a single run. It is safe for concurrent use;
// stages complete on different goroutines.
type Store struct {
	mu     sync.RWMutex
	graph  *dag.Graph
	byName map[string]Artifact
}

// NewStore creates an empty store bound to the run's dependency graph.
func NewStore(g *dag.Graph) *Store {
	return &Store{
		graph:  g,
		byName: make(map[string]Artifact),
	}
}

// Put registers an artifact under a unique name. Names are write-once across
// stages: a second stage claiming an existing name gets a DuplicateError. The
// producing stage itself may re-register its own artifact, which keeps
// re-executed stages after crash recovery idempotent.
func (s *Store) Put(producer, name, ref string) (Artifact, error) {
	if name == "" {
		return Artifact{}, fmt.Errorf("stage %q registered an artifact with an empty name", producer)
	}
	if _, ok := s.graph.Stage(producer); !ok {
		return Artifact{}, fmt.Errorf("artifact %q names unknown producer stage %q", name, producer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byName[name]; ok && existing.Producer != producer {
		return Artifact{}, &DuplicateError{Name: name, Producer: existing.Producer, Claimant: producer}
	}

	a := Artifact{Name: name, Producer: producer, Ref: ref, CreatedAt: time.Now().UTC()}
	s.byName[name] = a
	return a, nil
}

// Get resolves an artifact on behalf of a consuming stage. The read is
// allowed only when the consumer transitively depends on the producer.
func (s *Store) Get(consumer, name string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byName[name]
	if !ok {
		return Artifact{}, &NotFoundError{Name: name, Consumer: consumer}
	}
	if !s.graph.DependsOnTransitively(consumer, a.Producer) {
		return Artifact{}, &UnauthorizedError{Name: name, Producer: a.Producer, Consumer: consumer}
	}
	return a, nil
}

// ForConsumer returns every artifact the consumer is authorized to read,
// sorted by name. This is the input set handed to the stage's executor.
func (s *Store) ForConsumer(consumer string) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Artifact
	for _, a := range s.byName {
		if s.graph.DependsOnTransitively(consumer, a.Producer) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every registered artifact sorted by name.
func (s *Store) List() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Artifact, 0, len(s.byName))
	for _, a := range s.byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load seeds the store from previously journaled artifacts, preserving their
// recorded timestamps. Recovery uses it to restore the outputs of stages that
// already succeeded before a crash.
func (s *Store) Load(artifacts []Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range artifacts {
		if _, ok := s.graph.Stage(a.Producer); !ok {
			return fmt.Errorf("journaled artifact %q names unknown producer stage %q", a.Name, a.Producer)
		}
		if existing, ok := s.byName[a.Name]; ok && existing.Producer != a.Producer {
			return &DuplicateError{Name: a.Name, Producer: existing.Producer, Claimant: a.Producer}
		}
		s.byName[a.Name] = a
	}
	return nil
}
