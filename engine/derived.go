package engine

import (
	"context"
	"log"
	"sync"

	"github.com/reactivegraph/interceptor/types"
)

// recomputeFunc reruns a derived property's compute function under
// dependency recording (which it manages internally via
// types.PushRecording/PopRecording), returning the old/new cached value,
// whether it changed, and the freshly recorded dependency set. It is what
// Property[T].recomputeUntyped erases its type parameter into so
// derivedRegistry can hold a homogeneous map of them.
type recomputeFunc func(ctx context.Context) (old, new_ any, changed bool, deps []types.PropertyReference, err error)

// derivedBinding is one derived property's entry in the dependency graph:
// its own reference, how to recompute it, and the dependency set its last
// computation recorded.
type derivedBinding struct {
	mu        sync.Mutex
	ref       types.PropertyReference
	recompute recomputeFunc
	deps      []types.PropertyReference
}

// derivedRegistry tracks, for every derived property that has been read at
// least once, which plain (or other derived) properties it depends on, and
// reacts to the engine's change stream to invalidate and recompute them
// (spec.md §4.5 steps 1-4).
//
// Grounded on the teacher's chain_context.go fan-out: one central dispatch
// loop (here, a single goroutine draining a Subscribe channel) routes each
// event to the handlers registered for it, rather than every property
// polling or re-subscribing per change.
type derivedRegistry struct {
	ctx *Context

	mu       sync.RWMutex
	bindings map[types.PropertyReference]*derivedBinding
	byDep    map[types.PropertyReference]map[types.PropertyReference]bool

	logger *log.Logger
}

func newDerivedRegistry(c *Context) *derivedRegistry {
	d := &derivedRegistry{
		ctx:      c,
		bindings: make(map[types.PropertyReference]*derivedBinding),
		byDep:    make(map[types.PropertyReference]map[types.PropertyReference]bool),
		logger:   c.config.Logger,
	}
	ch, _ := c.changes.Subscribe(256)
	go d.run(ch)
	return d
}

func (d *derivedRegistry) run(ch <-chan types.PropertyChange) {
	for change := range ch {
		d.onChange(change)
	}
}

// declare registers a derived property's recompute function. Called once,
// at construction, by NewProperty; the dependency set itself is only known
// after the first actual computation.
func (d *derivedRegistry) declare(ref types.PropertyReference, recompute recomputeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[ref] = &derivedBinding{ref: ref, recompute: recompute}
}

// rebind replaces a binding's recorded dependency set, updating the
// reverse (dependency -> dependents) index so future changes to any newly
// recorded dependency reach it, and changes to a dropped dependency no
// longer do (spec.md §4.5 step 3).
func (d *derivedRegistry) rebind(ref types.PropertyReference, deps []types.PropertyReference) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bindings[ref]
	if !ok {
		return
	}
	b.mu.Lock()
	old := b.deps
	b.deps = deps
	b.mu.Unlock()

	for _, dep := range old {
		if set := d.byDep[dep]; set != nil {
			delete(set, ref)
			if len(set) == 0 {
				delete(d.byDep, dep)
			}
		}
	}
	for _, dep := range deps {
		set := d.byDep[dep]
		if set == nil {
			set = make(map[types.PropertyReference]bool)
			d.byDep[dep] = set
		}
		set[ref] = true
	}
}

func (d *derivedRegistry) onChange(change types.PropertyChange) {
	d.mu.RLock()
	dependents := d.byDep[change.Property]
	refs := make([]types.PropertyReference, 0, len(dependents))
	for ref := range dependents {
		refs = append(refs, ref)
	}
	d.mu.RUnlock()

	for _, ref := range refs {
		d.recompute(ref)
	}
}

// recompute reruns a derived property outside of any caller's read path, in
// reaction to a dependency change observed on the change stream.
func (d *derivedRegistry) recompute(ref types.PropertyReference) {
	d.mu.RLock()
	b, ok := d.bindings[ref]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if _, err := d.recomputeNow(context.Background(), ref, b.recompute); err != nil {
		d.logger.Printf("derived: recompute of %s failed: %v", ref, err)
	}
}

// recomputeNow runs fn, rebinds ref's dependency set from what it recorded,
// publishes a PropertyChange if the value changed, and returns the new
// value. Shared by the initial synchronous read (Property[T].derivedRead)
// and the asynchronous dependency-change path above.
func (d *derivedRegistry) recomputeNow(ctx context.Context, ref types.PropertyReference, fn recomputeFunc) (any, error) {
	old, newValue, changed, deps, err := fn(ctx)
	d.rebind(ref, deps)
	d.ctx.metrics.derivedRuns.Inc()

	if err != nil {
		if _, isCycle := err.(*types.CycleInDerivationError); isCycle {
			d.ctx.metrics.cycleErrors.Inc()
		}
		return nil, err
	}
	if changed {
		d.ctx.changes.Publish(types.PropertyChange{
			Property:  ref,
			OldValue:  old,
			NewValue:  newValue,
			Timestamp: d.ctx.config.Clock(),
			Source:    types.NoSource,
		})
	}
	return newValue, nil
}
