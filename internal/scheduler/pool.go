// Package scheduler implements the bounded worker pools spec.md §4.9
// names by instance class (ACCOUNTLIMIT, FOLDER_<repo>, MSGCOPY_<repo>):
// a registry of named semaphores, each admitting tasks up to its own
// bound and blocking excess task creators until a slot frees. Grounded
// on the ecosystem idiom other_examples/wryfi-shemail's errgroup usage,
// composed with golang.org/x/sync/semaphore for the named-bound part
// (no single example repo wires both together; this composition is the
// idiomatic way to express "bounded worker pool keyed by string name").
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Registry holds one weighted semaphore per named instance class.
// Pools are created lazily on first reference to a name and bound.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Pool returns the named pool, creating it with the given bound if it
// doesn't exist yet. A subsequent call with a different bound for the
// same name keeps the pool's original bound (first writer wins, since
// the bound is a process-wide configuration value set once at startup).
func (r *Registry) Pool(name string, bound int64) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[name]; ok {
		return p
	}
	if bound < 1 {
		bound = 1
	}
	p := &Pool{name: name, sem: semaphore.NewWeighted(bound), bound: bound}
	r.pools[name] = p
	return p
}

// Pool is one bounded worker pool: a semaphore.Weighted admission gate
// plus an errgroup.Group for error-collecting fan-out.
type Pool struct {
	name  string
	bound int64
	sem   *semaphore.Weighted
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Bound() int64 { return p.bound }

// Acquire blocks until a slot is free or ctx is canceled. Satisfies
// syncengine.Limiter structurally.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *Pool) Release() {
	p.sem.Release(1)
}

// Go runs tasks through an errgroup, each admitted through the pool's
// semaphore so at most Bound() run concurrently; the group's context is
// canceled as soon as any task returns a non-nil error, matching
// spec.md §4.9 "excess task creators block ... all tasks are
// daemon-equivalent."
func (p *Pool) Go(ctx context.Context, tasks []func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		if err := p.Acquire(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			defer p.Release()
			return task(gctx)
		})
	}
	return g.Wait()
}
