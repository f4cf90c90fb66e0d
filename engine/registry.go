package engine

import (
	"sort"
	"sync"

	"github.com/reactivegraph/interceptor/types"
)

// registry is the concrete types.Registry: the subject-registration index
// described in spec.md §4.4. Mirrors the teacher's registry.go
// (engine/registry.go in bittoy-rule) in shape — one RWMutex-guarded map
// plus snapshot-on-read — generalized from "chain-id -> RuleChain" to
// "subject identity -> registeredSubject".
type registry struct {
	mu    sync.RWMutex
	known map[types.Subject]*registeredSubject
}

func newRegistry() *registry {
	return &registry{known: make(map[types.Subject]*registeredSubject)}
}

// registeredSubject is the mutable bookkeeping record the lifecycle engine
// keeps per reachable subject: its reference count, the parent edges that
// hold it reachable, and per-property children lists (spec.md §4.3, §4.4).
type registeredSubject struct {
	mu       sync.RWMutex
	reg      *registry
	subject  types.Subject
	refCount int
	parents  []types.ParentEdge
	props    map[string]*registeredProperty

	// initialized tracks which property initializers have already run for
	// this registration of the subject. The record is dropped on detach, so
	// it does not span a re-attach; the once-per-property guarantee across
	// detach/re-attach comes from WithInitializer's own sync.Once.
	initialized map[string]bool
}

type registeredProperty struct {
	mu       sync.RWMutex
	reg      *registry
	ref      types.PropertyReference
	metadata types.PropertyMetadata
	children []types.ChildEdge
}

func (rp *registeredProperty) Reference() types.PropertyReference { return rp.ref }
func (rp *registeredProperty) Metadata() types.PropertyMetadata   { return rp.metadata }

func (rp *registeredProperty) Children() []types.ChildEdge {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	out := make([]types.ChildEdge, len(rp.children))
	copy(out, rp.children)
	return out
}

func (rp *registeredProperty) Path() string {
	return rp.reg.canonicalPath(rp.ref, rp.metadata)
}

func (rs *registeredSubject) Subject() types.Subject { return rs.subject }

func (rs *registeredSubject) Parents() []types.ParentEdge {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]types.ParentEdge, len(rs.parents))
	copy(out, rs.parents)
	return out
}

func (rs *registeredSubject) RefCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.refCount
}

func (rs *registeredSubject) Property(name string) (types.RegisteredProperty, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	p, ok := rs.props[name]
	if !ok {
		return nil, false
	}
	return p, true
}

func (rs *registeredSubject) AllProperties() []types.RegisteredProperty {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]types.RegisteredProperty, 0, len(rs.props))
	for _, p := range rs.props {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference().Property < out[j].Reference().Property })
	return out
}

func (r *registry) Lookup(s types.Subject) (types.RegisteredSubject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.known[canonicalSubject(s)]
	if !ok {
		return nil, false
	}
	return rs, true
}

// Snapshot returns a consistent, independent copy of every registered
// subject, safe to iterate while the registry continues to mutate (spec.md
// §4.4 "iteration yields a consistent snapshot").
func (r *registry) Snapshot() []types.RegisteredSubject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.RegisteredSubject, 0, len(r.known))
	for _, rs := range r.known {
		out = append(out, rs)
	}
	return out
}

func (r *registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}

// register creates (if absent) the bookkeeping record for s and returns it.
func (r *registry) register(s types.Subject) *registeredSubject {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.known[s]
	if !ok {
		rs = &registeredSubject{reg: r, subject: s, props: make(map[string]*registeredProperty)}
		r.known[s] = rs
	}
	return rs
}

func (r *registry) unregister(s types.Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.known, s)
}

func (rs *registeredSubject) propertyFor(ref types.PropertyReference, meta types.PropertyMetadata) *registeredProperty {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rp, ok := rs.props[ref.Property]
	if !ok {
		rp = &registeredProperty{reg: rs.reg, ref: ref, metadata: meta}
		rs.props[ref.Property] = rp
	} else {
		rp.metadata = meta
	}
	return rp
}

// visitedSet implements the cycle-safe traversal guard spec.md §4.4 requires
// of get_all_properties: a visited set of registered-subject identities,
// never revisited.
type visitedSet map[types.Subject]bool

func (v visitedSet) seen(s types.Subject) bool {
	if v[s] {
		return true
	}
	v[s] = true
	return false
}

// Walk performs a cycle-safe breadth traversal from root, calling visit once
// per reachable registered property (spec.md §4.4 get_all_properties). This
// is the traversal protocol/model.go's BuildSnapshot drives the complete-
// snapshot walk with, rather than re-deriving its own visited-set/queue.
func (r *registry) Walk(root types.Subject, visit func(types.RegisteredSubject, types.RegisteredProperty)) {
	visited := make(visitedSet)
	queue := []types.Subject{canonicalSubject(root)}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if visited.seen(s) {
			continue
		}
		rs, ok := r.Lookup(s)
		if !ok {
			continue
		}
		for _, rp := range rs.AllProperties() {
			visit(rs, rp)
			for _, child := range rp.Children() {
				if child.Subject != nil {
					queue = append(queue, child.Subject)
				}
			}
		}
	}
}

var _ types.Registry = (*registry)(nil)
var _ types.RegisteredSubject = (*registeredSubject)(nil)
var _ types.RegisteredProperty = (*registeredProperty)(nil)
