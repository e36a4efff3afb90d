// Package envlock serializes mutating operations per environment. Deploys
// and restores targeting the same environment queue behind each other;
// different environments proceed independently.
package envlock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registry hands out one binary semaphore per environment handle.
type Registry struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewRegistry() *Registry {
	return &Registry{sems: make(map[string]*semaphore.Weighted)}
}

func (r *Registry) sem(env string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sems[env]
	if !ok {
		s = semaphore.NewWeighted(1)
		r.sems[env] = s
	}
	return s
}

// Acquire blocks until the environment is free or ctx is done. The returned
// release function must be called exactly once.
func (r *Registry) Acquire(ctx context.Context, env string) (release func(), err error) {
	if env == "" {
		return nil, fmt.Errorf("envlock: environment handle is empty")
	}
	s := r.sem(env)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("envlock: waiting for environment %q: %w", env, err)
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(1) }) }, nil
}
