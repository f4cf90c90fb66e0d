package engine

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/reactivegraph/interceptor/types"
)

// Base is the mixin every concrete subject type embeds, the same way the
// teacher's component implementations each embed their declared
// Configuration rather than re-deriving bookkeeping (components/base/base.go
// in bittoy-rule). It supplies identity, the property table, the
// interceptor collection and the data bag; the embedding type supplies its
// own Property[T] fields for each declared property.
//
// Go has no partial-type-declaration codegen (spec.md §9 design notes); the
// Go-idiomatic replacement this engine uses is instance-level registration
// through generics: each Property[T] field registers itself with the Base
// it is constructed against (see property.go), instead of a build-step
// emitting accessor boilerplate into a per-type static table.
type Base struct {
	ctx      *Context
	id       string
	typeName string

	mu           sync.Mutex
	staticOrder  []string
	dynamicOrder []string
	props        map[string]types.PropertyMetadata

	interceptors *interceptorCollection
	data         *dataBag

	// writeMu serializes one subject's write-side interceptor chain
	// (equality gate + write + emission) into a single atomic step per
	// spec.md §5. Never touched by the read path: reads only ever take a
	// Property[T]'s own fine-grained RWMutex, so a derived property
	// recursively reading a sibling property on the same subject cannot
	// deadlock against writeMu.
	writeMu sync.Mutex
}

// NewBase constructs the mixin for a fresh, detached subject of the given
// type name. ctx may be nil only for subjects that will never be attached
// (rare; tests mostly).
func NewBase(ctx *Context, typeName string) *Base {
	id, err := uuid.NewV4()
	idStr := ""
	if err == nil {
		idStr = id.String()
	}
	return &Base{
		ctx:          ctx,
		id:           idStr,
		typeName:     typeName,
		props:        make(map[string]types.PropertyMetadata),
		interceptors: newInterceptorCollection(),
		data:         newDataBag(),
	}
}

func (b *Base) Id() string       { return b.id }
func (b *Base) TypeName() string { return b.typeName }

func (b *Base) Properties() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.staticOrder))
	copy(out, b.staticOrder)
	return out
}

func (b *Base) DynamicPropertyNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.dynamicOrder))
	copy(out, b.dynamicOrder)
	return out
}

func (b *Base) Metadata(property string) (types.PropertyMetadata, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.props[property]
	return m, ok
}

func (b *Base) Interceptors() types.InterceptorCollection { return b.interceptors }
func (b *Base) Data() types.DataBag                       { return b.data }

// Context returns the engine context this subject was constructed against.
// Not part of types.Subject: it is an engine-internal accessor used by
// Property[T] and by the lifecycle engine.
func (b *Base) Context() *Context { return b.ctx }

// registerProperty adds or replaces a property's metadata. dynamic==false
// for properties declared at construction time (static); true for ones
// added later via AddDynamicProperty/AddAttribute (engine/dynamic.go).
func (b *Base) registerProperty(meta types.PropertyMetadata, dynamic bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.props[meta.Name]; !exists {
		if dynamic {
			b.dynamicOrder = append(b.dynamicOrder, meta.Name)
		} else {
			b.staticOrder = append(b.staticOrder, meta.Name)
		}
	}
	b.props[meta.Name] = meta
}

// hasBase is satisfied by any concrete subject type that embeds *Base,
// regardless of which package declares it. Method promotion makes
// engineBase() visible on the embedding type automatically, so engine can
// recover the *Base (and thus the writeMu, interceptors, registration
// bookkeeping) behind a types.Subject interface value coming from an
// application package it never imports — the Go-idiomatic substitute for
// the teacher's habit of type-asserting down to its own concrete component
// structs within a single package (components/base).
type hasBase interface {
	engineBase() *Base
}

func (b *Base) engineBase() *Base { return b }

func baseOf(s types.Subject) (*Base, bool) {
	hb, ok := s.(hasBase)
	if !ok {
		return nil, false
	}
	return hb.engineBase(), true
}

var _ types.Subject = (*Base)(nil)
var _ hasBase = (*Base)(nil)
