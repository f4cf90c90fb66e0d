package engine

import (
	"context"
	"reflect"
	"sync"

	"github.com/reactivegraph/interceptor/types"
)

// Property[T] is the generic stand-in for the per-property accessor a code
// generator would normally emit from a partial type declaration (spec.md §9
// design notes: "a code generator or equivalent"). Go has neither partial
// types nor that codegen step, so instead every declared property is a
// Property[T] field on the owning struct, registering its metadata with the
// embedded *Base at construction time — the instance-level equivalent of
// the teacher's component-registration-by-embedding pattern
// (components/base/base.go in bittoy-rule).
//
// Storage uses its own RWMutex rather than the owning subject's writeMu:
// reads must never block on writeMu, or a derived property recursively
// reading a sibling plain property on the same subject mid-write would
// deadlock against the write path that's already holding writeMu.
type Property[T any] struct {
	mu    sync.RWMutex
	value T

	base *Base
	name string
	kind types.Kind

	derived   bool
	computed  bool
	compute   func(ctx context.Context) (T, error)
	setter    func(ctx context.Context, value T) error
	noSetter  bool
	validated []string

	attributeOf   string
	attributeName string

	initializer func(ctx context.Context, s types.Subject) error
}

// PropertyOption configures a Property[T] at construction.
type PropertyOption[T any] func(*Property[T])

// WithDerived marks the property as derived, computed by compute rather
// than stored (spec.md §4.5). A derived property has no Writer unless
// WithSetter is also given.
func WithDerived[T any](compute func(ctx context.Context) (T, error)) PropertyOption[T] {
	return func(p *Property[T]) {
		p.derived = true
		p.compute = compute
	}
}

// WithSetter gives a (possibly derived) property a custom setter, for
// derived properties that may be "written" (spec.md §4.5: "the setter
// mutates underlying state, after which dependencies are re-recorded on the
// next read").
func WithSetter[T any](setter func(ctx context.Context, value T) error) PropertyOption[T] {
	return func(p *Property[T]) { p.setter = setter }
}

// WithReadOnly marks a plain (non-derived) property as having no setter.
func WithReadOnly[T any]() PropertyOption[T] {
	return func(p *Property[T]) { p.noSetter = true }
}

// WithValidators names the registered validators (engine.Context.Validators)
// a write to this property must pass.
func WithValidators[T any](names ...string) PropertyOption[T] {
	return func(p *Property[T]) { p.validated = append(p.validated, names...) }
}

// WithAttributeOf marks the property as an attribute bound to another
// property on the same subject (spec.md §4.1, §4.6).
func WithAttributeOf[T any](baseProperty, attributeName string) PropertyOption[T] {
	return func(p *Property[T]) {
		p.attributeOf = baseProperty
		p.attributeName = attributeName
	}
}

// WithInitializer registers a function that runs exactly once, the first
// time the owning subject is attached (spec.md §4.3 rule 5).
func WithInitializer[T any](fn func(ctx context.Context, s types.Subject) error) PropertyOption[T] {
	return func(p *Property[T]) {
		var once sync.Once
		p.initializer = func(ctx context.Context, s types.Subject) error {
			var err error
			once.Do(func() { err = fn(ctx, s) })
			return err
		}
	}
}

// NewProperty declares a static property named name on base, registering
// its metadata immediately so it is visible to Properties()/Metadata() even
// before any read or write occurs.
func NewProperty[T any](base *Base, name string, opts ...PropertyOption[T]) *Property[T] {
	return newProperty(base, name, false, opts...)
}

// newProperty is shared by NewProperty (static, spec.md §4.1) and
// AddDynamicProperty/AddAttribute (runtime, spec.md §4.6) — the two differ
// only in which order slice (staticOrder/dynamicOrder) the name lands in.
func newProperty[T any](base *Base, name string, dynamic bool, opts ...PropertyOption[T]) *Property[T] {
	p := &Property[T]{base: base, name: name, kind: kindOf[T]()}
	for _, opt := range opts {
		opt(p)
	}
	meta := p.metadata()
	base.registerProperty(meta, dynamic)
	if base.ctx != nil {
		base.ctx.registerIfAttached(base, meta)
		if p.derived {
			base.ctx.derived.declare(p.ref(), p.recomputeUntyped)
		}
	}
	return p
}

func (p *Property[T]) ref() types.PropertyReference {
	return types.PropertyReference{Subject: p.base, Property: p.name}
}

func kindOf[T any]() types.Kind {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return types.KindScalar
	}
	switch rt.Kind() {
	case reflect.Slice, reflect.Array:
		return types.KindSequence
	case reflect.Map:
		return types.KindMap
	default:
		var s types.Subject
		if rt.Implements(reflect.TypeOf(&s).Elem()) {
			return types.KindSubject
		}
		return types.KindScalar
	}
}

func (p *Property[T]) metadata() types.PropertyMetadata {
	reader := types.Reader(func(ctx context.Context) (any, error) {
		if p.derived {
			return p.derivedRead(ctx)
		}
		return p.rawGet(), nil
	})
	var writer types.Writer
	if p.derived && p.setter == nil {
		writer = nil
	} else if p.noSetter {
		writer = nil
	} else {
		writer = func(ctx context.Context, value any) error {
			v, ok := value.(T)
			if !ok {
				var zero T
				return &types.TypeMismatchError{Property: p.ref(), Expected: zero, Got: value}
			}
			return p.rawSet(ctx, v)
		}
	}

	return types.PropertyMetadata{
		Name:          p.name,
		Kind:          p.kind,
		ValueType:     reflect.TypeOf((*T)(nil)).Elem(),
		Reader:        reader,
		Writer:        writer,
		IsDerived:     p.derived,
		IsAttribute:   p.attributeOf != "",
		AttributeOf:   p.attributeOf,
		AttributeName: p.attributeName,
		Validators:    p.validated,
		Initializer:   p.initializer,
	}
}

// Read returns the property's current value, running the subject's read
// interceptor chain (spec.md §4.2). For a derived property the first read
// computes the value synchronously; later reads return the cached value,
// which the derived registry's goroutine recomputes asynchronously after a
// dependency change.
func (p *Property[T]) Read(ctx context.Context) (T, error) {
	if p.base.ctx == nil {
		return p.rawGet(), nil
	}
	v, err := p.base.ctx.Read(ctx, p.base, p.name)
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, &types.TypeMismatchError{Property: p.ref(), Expected: zero, Got: v}
	}
	return t, nil
}

// Write proposes a new value for the property, running the subject's write
// interceptor chain (equality gate, parent-tracking, lifecycle, validation,
// change publication, in that order) before committing.
func (p *Property[T]) Write(ctx context.Context, value T) error {
	if p.base.ctx == nil {
		return p.rawSet(ctx, value)
	}
	return p.base.ctx.Write(ctx, p.base, p.name, value)
}

// rawGet/rawSet are the plain storage the interceptor chain bottoms out at.
// rawGet never recomputes; a derived property's reader goes through
// derivedRead instead.
func (p *Property[T]) rawGet() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// derivedRead returns the cached value if the derived property has already
// been computed at least once (normal case: recomputation happens
// out-of-band via derivedRegistry when a dependency changes), or performs
// the initial synchronous computation and dependency recording otherwise
// (spec.md §4.5 "On first read and on every re-evaluation").
func (p *Property[T]) derivedRead(ctx context.Context) (any, error) {
	p.mu.RLock()
	done := p.computed
	val := p.value
	p.mu.RUnlock()
	if done {
		return val, nil
	}
	return p.base.ctx.derived.recomputeNow(ctx, p.ref(), p.recomputeUntyped)
}

func (p *Property[T]) rawSet(ctx context.Context, value T) error {
	if p.derived {
		if p.setter == nil {
			return &types.InternalError{Err: errDerivedNoSetter{p.name}}
		}
		return p.setter(ctx, value)
	}
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
	return nil
}

type errDerivedNoSetter struct{ name string }

func (e errDerivedNoSetter) Error() string { return "derived property " + e.name + " has no setter" }

// recomputeUntyped is the engine-facing recompute hook registered with
// derivedRegistry: it reruns compute under dependency recording, and
// reports whether the cached value changed along with the freshly recorded
// dependency set (spec.md §4.5 steps 1-3).
func (p *Property[T]) recomputeUntyped(ctx context.Context) (old, new_ any, changed bool, deps []types.PropertyReference, err error) {
	ref := p.ref()
	recCtx, pushErr := types.PushRecording(ctx, ref)
	if pushErr != nil {
		return nil, nil, false, nil, pushErr
	}
	newValue, computeErr := p.compute(recCtx)
	deps = types.PopRecording(recCtx)
	if computeErr != nil {
		return nil, nil, false, deps, computeErr
	}

	p.mu.Lock()
	oldValue := p.value
	changed = !p.computed || !reflect.DeepEqual(any(oldValue), any(newValue))
	p.value = newValue
	p.computed = true
	p.mu.Unlock()

	return oldValue, newValue, changed, deps, nil
}

// Metadata returns the property's declared metadata, useful for tests and
// tooling that want it without going through the owning subject.
func (p *Property[T]) Metadata() types.PropertyMetadata { return p.metadata() }
