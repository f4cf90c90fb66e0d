package engine

import (
	"context"
	"fmt"

	"github.com/reactivegraph/interceptor/builtin/interceptor"
	"github.com/reactivegraph/interceptor/types"
)

// Context is the engine root: one per independent object graph. It owns the
// subject registry, the change stream, metrics, the validator registry and
// the derived-property recompute machinery, and is the types.LifecycleHooks
// implementation the builtin Parent-tracking/Lifecycle interceptors call
// into. Mirrors the teacher's engine.RuleEngine/engine.Config split
// (engine/config.go, engine/chain_engine.go in bittoy-rule): one long-lived
// value constructed once via functional options, handed to every subject it
// manages.
type Context struct {
	config     types.Config
	registry   *registry
	changes    *observable
	metrics    *metricsSet
	validators *validatorRegistry
	derived    *derivedRegistry
}

// NewContext constructs a fresh, empty object graph context.
func NewContext(opts ...types.Option) *Context {
	cfg := types.NewConfig(opts...)
	c := &Context{
		config:     cfg,
		registry:   newRegistry(),
		changes:    newObservable(cfg.Logger),
		metrics:    newMetricsSet(cfg.MetricsRegisterer),
		validators: newValidatorRegistry(),
	}
	c.derived = newDerivedRegistry(c)
	return c
}

// Config returns the configuration the context was built with.
func (c *Context) Config() types.Config { return c.config }

// Changes returns the engine-wide change stream (spec.md §4.5).
func (c *Context) Changes() types.ChangeStream { return c.changes }

// Validators returns the registry used to resolve PropertyMetadata.Validators
// names (spec.md §4.1, §4.2 "Validation"). Callers register validators here
// before attaching subjects that reference them.
func (c *Context) Validators() *validatorRegistry { return c.validators }

// Registry exposes the read-only subject registry (spec.md §4.4).
func (c *Context) Registry() types.Registry { return c.registry }

func canonicalSubject(s types.Subject) types.Subject {
	if b, ok := baseOf(s); ok {
		return b
	}
	return s
}

// Read runs s's effective read-interceptor chain for property, terminating
// in the property's own reader function (spec.md §4.2).
func (c *Context) Read(ctx context.Context, s types.Subject, property string) (any, error) {
	meta, ok := s.Metadata(property)
	if !ok {
		return nil, &types.InternalError{Err: fmt.Errorf("unknown property %q on %s", property, s.TypeName())}
	}
	if meta.Reader == nil {
		return nil, &types.InternalError{Err: fmt.Errorf("property %q is write-only", property)}
	}
	ref := types.PropertyReference{Subject: canonicalSubject(s), Property: property}
	chain := s.Interceptors().ReadChain()
	c.metrics.reads.Inc()
	return runReadChain(ctx, chain, ref, meta.Reader)
}

// Write runs s's effective write-interceptor chain for property against
// proposed, terminating in the property's own writer function. The chain
// runs under the subject's writeMu when s embeds *Base, serializing the
// equality-gate/write/emission step into one atomic unit (spec.md §5).
func (c *Context) Write(ctx context.Context, s types.Subject, property string, proposed any) error {
	meta, ok := s.Metadata(property)
	if !ok {
		return &types.InternalError{Err: fmt.Errorf("unknown property %q on %s", property, s.TypeName())}
	}
	if meta.Writer == nil {
		return &types.InternalError{Err: fmt.Errorf("property %q is read-only or derived without a setter", property)}
	}

	if base, ok := baseOf(s); ok {
		var acquired bool
		ctx, acquired = acquireWriteLock(ctx, base)
		if acquired {
			base.writeMu.Lock()
			defer func() {
				base.writeMu.Unlock()
				releaseWriteLock(ctx, base)
			}()
		}
	}

	var current any
	var err error
	if meta.Reader != nil {
		current, err = meta.Reader(ctx)
		if err != nil {
			return err
		}
	}

	ref := types.PropertyReference{Subject: canonicalSubject(s), Property: property}
	chain := s.Interceptors().WriteChain()
	c.metrics.writes.Inc()
	err = runWriteChain(ctx, chain, ref, current, proposed, meta.Writer)
	// Count a validation failure only at the write it belongs to, not again
	// at an outer write whose setter made the failing nested write.
	if verr, ok := err.(*types.ValidationError); ok && verr.Property == ref {
		c.metrics.validations.Inc()
	}
	return err
}

// writeLockKeyType scopes a per-call-chain record of which subjects' writeMu
// the current goroutine already holds, the same context-value idiom
// types.PushRecording uses for the derived-property recording stack. A
// derived property's setter (WithSetter) commonly writes another property on
// the *same* subject — e.g. Computed's setter writing LocalFlag (spec.md
// §4.5, §8 scenario 5) — and that nested Write call arrives on the same ctx
// chain as the outer one. Without this guard, base.writeMu being a plain
// sync.Mutex would deadlock the nested call against itself.
type writeLockKeyType struct{}

var writeLockKey = writeLockKeyType{}

type writeLockSet struct{ held map[*Base]bool }

// acquireWriteLock reports whether the caller must actually lock base's
// writeMu: true the first time base is entered on this call chain, false if
// an enclosing Write on the same ctx chain already holds it. The returned
// ctx carries the (possibly newly created) lock set and must be threaded
// into any nested calls for the guard to see them as nested.
func acquireWriteLock(ctx context.Context, base *Base) (context.Context, bool) {
	set, ok := ctx.Value(writeLockKey).(*writeLockSet)
	if !ok {
		set = &writeLockSet{held: make(map[*Base]bool)}
		ctx = context.WithValue(ctx, writeLockKey, set)
	}
	if set.held[base] {
		return ctx, false
	}
	set.held[base] = true
	return ctx, true
}

// releaseWriteLock clears base's entry so a later, non-nested Write call on
// the same ctx chain (e.g. a second top-level write reusing a request ctx)
// correctly re-acquires writeMu rather than skipping it forever.
func releaseWriteLock(ctx context.Context, base *Base) {
	if set, ok := ctx.Value(writeLockKey).(*writeLockSet); ok {
		delete(set.held, base)
	}
}

func runReadChain(ctx context.Context, chain []types.ReadInterceptor, ref types.PropertyReference, terminal types.Reader) (any, error) {
	var invoke func(i int) types.ReadNext
	invoke = func(i int) types.ReadNext {
		if i >= len(chain) {
			return func(ctx context.Context) (any, error) { return terminal(ctx) }
		}
		step := chain[i]
		return func(ctx context.Context) (any, error) {
			return step.InterceptRead(ctx, ref, invoke(i+1))
		}
	}
	return invoke(0)(ctx)
}

func runWriteChain(ctx context.Context, chain []types.WriteInterceptor, ref types.PropertyReference, current, proposed any, terminal types.Writer) error {
	var invoke func(i int) types.WriteNext
	invoke = func(i int) types.WriteNext {
		if i >= len(chain) {
			return func(ctx context.Context, value any) error { return terminal(ctx, value) }
		}
		step := chain[i]
		return func(ctx context.Context, value any) error {
			return step.InterceptWrite(ctx, ref, current, value, invoke(i+1))
		}
	}
	return invoke(0)(ctx, proposed)
}

// AttachRoot registers s as (or reconfirms it as) a root of the graph,
// seeding the standard interceptors directly onto its own collection if
// this is its first attach (spec.md §4.2, §4.3).
func (c *Context) AttachRoot(ctx context.Context, s types.Subject) error {
	canon := canonicalSubject(s)
	rs := c.registry.register(canon)
	rs.mu.Lock()
	rs.refCount++
	count := rs.refCount
	rs.mu.Unlock()

	if count != 1 {
		return nil
	}
	c.seedStandardInterceptors(s)
	c.metrics.attaches.Inc()
	c.metrics.subjects.Set(float64(c.registry.Size()))
	return c.runInitializers(ctx, s)
}

// DetachRoot releases the caller's root reference to s.
func (c *Context) DetachRoot(ctx context.Context, s types.Subject) error {
	canon := canonicalSubject(s)
	rs, ok := c.registry.Lookup(canon)
	if !ok {
		return nil
	}
	impl := rs.(*registeredSubject)
	impl.mu.Lock()
	impl.refCount--
	count := impl.refCount
	impl.mu.Unlock()

	if count > 0 {
		return nil
	}
	c.registry.unregister(canon)
	c.metrics.detaches.Inc()
	c.metrics.subjects.Set(float64(c.registry.Size()))
	return c.cascadeDetach(ctx, canon)
}

func (c *Context) seedStandardInterceptors(s types.Subject) {
	ic := s.Interceptors()
	ic.AddWrite(interceptor.NewEquality())
	ic.AddWrite(interceptor.NewParentTracking(c))
	ic.AddWrite(interceptor.NewLifecycle(c))
	ic.AddWrite(interceptor.NewValidation(c.validators))
	ic.AddWrite(interceptor.NewChangePublication(c.changes, c.config.Clock))
	ic.AddRead(interceptor.NewDerivedRecorder())
}

// registerIfAttached makes a freshly declared property visible to
// registry.Walk immediately, even if its subject is already attached and no
// write has yet run UpdateChildren for it (e.g. a dynamic property added at
// runtime to a subject that was attached before the call, or a derived
// property that is only ever read, never written). Without this, such a
// property would be invisible to a registry.Walk-driven traversal (e.g.
// protocol.BuildSnapshot) until its first write.
func (c *Context) registerIfAttached(s types.Subject, meta types.PropertyMetadata) {
	rsIface, ok := c.registry.Lookup(canonicalSubject(s))
	if !ok {
		return
	}
	rsIface.(*registeredSubject).propertyFor(types.PropertyReference{Subject: s, Property: meta.Name}, meta)
}

func (c *Context) runInitializers(ctx context.Context, s types.Subject) error {
	canon := canonicalSubject(s)
	rsIface, ok := c.registry.Lookup(canon)
	if !ok {
		return nil
	}
	rs := rsIface.(*registeredSubject)

	names := append(append([]string{}, s.Properties()...), s.DynamicPropertyNames()...)
	for _, name := range names {
		meta, ok := s.Metadata(name)
		if !ok {
			continue
		}
		// Register every declared property against the registry at attach
		// time, not only on first write: a registry.Walk traversal (e.g.
		// protocol.BuildSnapshot) must see a derived or never-yet-written
		// property too, not just properties that happen to have been
		// written at least once through parent-tracking's UpdateChildren.
		rs.propertyFor(types.PropertyReference{Subject: s, Property: name}, meta)

		if meta.Initializer == nil {
			continue
		}
		rs.mu.Lock()
		if rs.initialized == nil {
			rs.initialized = make(map[string]bool)
		}
		if rs.initialized[name] {
			rs.mu.Unlock()
			continue
		}
		rs.initialized[name] = true
		rs.mu.Unlock()

		if err := meta.Initializer(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// UpdateChildren implements types.LifecycleHooks: pure child-edge bookkeeping
// for one property, independent of reference counting (spec.md §4.2
// "Parent-tracking").
func (c *Context) UpdateChildren(ctx context.Context, property types.PropertyReference, old, new_ []types.ContainedSubject) {
	meta, _ := property.Subject.Metadata(property.Property)
	rs := c.registry.register(property.Subject)
	rp := rs.propertyFor(property, meta)

	children := make([]types.ChildEdge, 0, len(new_))
	for _, cs := range new_ {
		children = append(children, types.ChildEdge{Subject: canonicalSubject(cs.Subject), IndexOrKey: cs.IndexOrKey})
	}
	rp.mu.Lock()
	rp.children = children
	rp.mu.Unlock()
}

// ApplyLifecycleDiff implements types.LifecycleHooks: computes the symmetric
// difference of old/new contained-subject sets and fires attach/detach for
// the subjects that transition across the 0/1 reference-count boundary
// (spec.md §4.2 "Lifecycle", §4.3).
//
// The diff is keyed by IndexOrKey, not by subject identity alone: spec.md §3
// counts one edge per (property-reference, index-or-key) pair, so the same
// subject held twice by one collection (e.g. children=[x, x]) is two edges,
// not one. Keying by subject identity would collapse both occurrences into
// a single map entry, undercounting the refcount and dropping one of the
// two required parent entries. Keying by index/key instead still satisfies
// "shared subjects generate no events" for the common case (a given slot
// holding the same subject before and after), while correctly firing a
// detach+attach pair for each slot whose occupant actually changed.
func (c *Context) ApplyLifecycleDiff(ctx context.Context, property types.PropertyReference, old, new_ []types.ContainedSubject) error {
	oldByKey := make(map[any]types.Subject, len(old))
	for _, cs := range old {
		if cs.Subject != nil {
			oldByKey[cs.IndexOrKey] = canonicalSubject(cs.Subject)
		}
	}
	newByKey := make(map[any]types.Subject, len(new_))
	for _, cs := range new_ {
		if cs.Subject != nil {
			newByKey[cs.IndexOrKey] = canonicalSubject(cs.Subject)
		}
	}

	for key, s := range oldByKey {
		if ns, stillSame := newByKey[key]; stillSame && ns == s {
			continue
		}
		if err := c.decrementAndMaybeDetach(ctx, s, property, key); err != nil {
			return err
		}
	}
	for key, s := range newByKey {
		if os, wasSame := oldByKey[key]; wasSame && os == s {
			continue
		}
		if err := c.incrementAndMaybeAttach(ctx, s, property, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) incrementAndMaybeAttach(ctx context.Context, s types.Subject, via types.PropertyReference, indexOrKey any) error {
	rs := c.registry.register(s)
	rs.mu.Lock()
	rs.refCount++
	count := rs.refCount
	rs.parents = append(rs.parents, types.ParentEdge{Property: via, IndexOrKey: indexOrKey})
	rs.mu.Unlock()

	if count != 1 {
		return nil
	}
	if via.Subject != nil {
		s.Interceptors().InheritFrom(via.Subject.Interceptors())
	}
	c.metrics.attaches.Inc()
	c.metrics.subjects.Set(float64(c.registry.Size()))
	return c.runInitializers(ctx, s)
}

func (c *Context) decrementAndMaybeDetach(ctx context.Context, s types.Subject, via types.PropertyReference, indexOrKey any) error {
	rs := c.registry.register(s)
	rs.mu.Lock()
	rs.refCount--
	count := rs.refCount
	rs.parents = removeParentEdge(rs.parents, via, indexOrKey)
	rs.mu.Unlock()

	if count > 0 {
		return nil
	}
	if via.Subject != nil {
		s.Interceptors().UninheritFrom(via.Subject.Interceptors())
	}
	c.registry.unregister(s)
	c.metrics.detaches.Inc()
	c.metrics.subjects.Set(float64(c.registry.Size()))
	return c.cascadeDetach(ctx, s)
}

// cascadeDetach releases the references s itself holds on other subjects,
// once s has just been unregistered. Without this, a subject reachable only
// through an already-detached holder (e.g. b.mother = a, then b detaches)
// would keep a's refcount stuck above zero forever, since nothing else ever
// walks a departing subject's own properties (spec.md §3, §8 scenario 2).
func (c *Context) cascadeDetach(ctx context.Context, s types.Subject) error {
	names := append(append([]string{}, s.Properties()...), s.DynamicPropertyNames()...)
	for _, name := range names {
		meta, ok := s.Metadata(name)
		if !ok || meta.Reader == nil {
			continue
		}
		value, err := meta.Reader(ctx)
		if err != nil {
			continue
		}
		for _, cs := range types.ExtractContained(value) {
			via := types.PropertyReference{Subject: s, Property: name}
			if err := c.decrementAndMaybeDetach(ctx, canonicalSubject(cs.Subject), via, cs.IndexOrKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeParentEdge(list []types.ParentEdge, via types.PropertyReference, indexOrKey any) []types.ParentEdge {
	for i, e := range list {
		if e.Property == via && e.IndexOrKey == indexOrKey {
			return append(list[:i], list[i+1:]...)
		}
	}
	// Fall back to matching on property alone: a plain KindSubject property
	// only ever has one edge, so IndexOrKey equality (both nil) already
	// covers it above; this only helps if a caller's indexOrKey type varies
	// between attach and detach for the same logical key.
	for i, e := range list {
		if e.Property == via {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

var _ types.LifecycleHooks = (*Context)(nil)
