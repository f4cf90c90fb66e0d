// Package types defines the core interfaces, data structures, and contracts
// for the reactive subject-graph interception engine.
//
// This package is the foundation for everything under engine/, builtin/ and
// protocol/: it describes what a Subject, a Property, an Interceptor, a
// PropertyChange and a SubjectUpdate are, without committing to how they are
// stored or dispatched. engine/ provides the concrete implementation;
// builtin/interceptor provides the standard middleware; protocol/ provides
// the wire-format-agnostic subject-update representation plus one concrete
// transport.
package types

import (
	"context"
	"reflect"
)

// Subject is an observable entity with named properties. Identity is handle
// equality: two Subject values refer to the same node iff they are the same
// pointer. A Subject is polymorphic over which capabilities its properties
// support (readable, writable, derived) — the property metadata, not the
// subject, carries that distinction.
type Subject interface {
	// Id returns a process-local, human-readable handle for logging and for
	// the subject-update protocol's stringified ids. It is NOT the identity
	// of the subject (identity is pointer equality) and is not guaranteed
	// stable across process restarts.
	Id() string

	// TypeName returns the declared type name of the subject, used for
	// PathProvider hints and for subject-update reconstruction.
	TypeName() string

	// Properties returns the canonical set of property names declared on
	// this subject's type, in declaration order. Dynamically added
	// properties (§4.6) are NOT included; use DynamicPropertyNames.
	Properties() []string

	// DynamicPropertyNames returns the names of properties added at
	// runtime via AddDynamicProperty / AddAttribute, in insertion order.
	DynamicPropertyNames() []string

	// Metadata returns the declared metadata for a property by name. The
	// second return value is false if the subject has no such property
	// (static or dynamic).
	Metadata(property string) (PropertyMetadata, bool)

	// Interceptors returns the subject's interceptor collection. It holds
	// the subject's own interceptors and, as separate entries, those
	// inherited from parents; ReadChain/WriteChain return both.
	Interceptors() InterceptorCollection

	// Data returns the subject's mutable, concurrency-safe string-keyed
	// data bag (spec.md §4.1).
	Data() DataBag
}

// DataBag is a concurrent string-to-any map attached to every subject. It is
// deliberately untyped: it exists for bridge-specific bookkeeping (cached
// paths, last-sent values, etc.), not for application state.
type DataBag interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
}

// PropertyReference identifies a single property on a single subject. It is
// comparable and hashable: two PropertyReference values are equal iff they
// name the same property on the same subject (by pointer).
type PropertyReference struct {
	Subject  Subject
	Property string
}

// String renders a debug-friendly "Subject#id.property" form. It is not the
// canonical dotted path used by the registry (engine/path.go); that requires
// the live parent/child graph.
func (r PropertyReference) String() string {
	id := "<nil>"
	if r.Subject != nil {
		id = r.Subject.Id()
	}
	return id + "." + r.Property
}

// Kind classifies what shape a property's value has, which determines how
// the lifecycle engine extracts contained subjects (spec.md §4.3.2) and how
// the subject-update protocol encodes it (spec.md §4.8).
type Kind int

const (
	// KindScalar is any value that is not itself a Subject, a sequence of
	// Subjects, or a map of Subjects — plain data.
	KindScalar Kind = iota
	// KindSubject is a single Subject-valued property.
	KindSubject
	// KindSequence is an ordered collection whose elements may be Subjects.
	KindSequence
	// KindMap is a collection keyed by comparable values whose elements may
	// be Subjects.
	KindMap
)

// Reader is a property's read function. A nil Reader makes a property
// write-only.
type Reader func(ctx context.Context) (any, error)

// Writer is a property's write function. A nil Writer makes a property
// read-only, or (combined with IsDerived) purely computed.
type Writer func(ctx context.Context, value any) error

// PropertyMetadata describes one property (static or dynamic) of a subject
// type. A nil Reader makes a property write-only; a nil Writer makes it
// read-only or derived (IsDerived distinguishes the two: a derived property
// has neither a plain stored value nor a user-supplied Writer unless it was
// declared "writable" per spec.md §4.5).
type PropertyMetadata struct {
	// Name is the property's identifier, unique within the subject.
	Name string
	// Kind classifies the property's value shape (see Kind).
	Kind Kind
	// ValueType is the declared Go type of the property, for every Kind
	// (for KindSequence/KindMap, ValueType.Elem() is the element type).
	ValueType reflect.Type
	// Reader/Writer are the property's innermost read/write functions —
	// the actual storage slot or computation the interceptor chain
	// ultimately bottoms out at.
	Reader Reader
	Writer Writer
	// IsDerived marks a property whose value is computed from other
	// properties rather than stored directly (spec.md §4.5).
	IsDerived bool
	// IsAttribute marks a property as an attribute of another, base
	// property. AttributeOf/AttributeName are only meaningful when true.
	IsAttribute bool
	// AttributeOf is the base property name this attribute is bound to.
	AttributeOf string
	// AttributeName is this attribute's own name (the path is
	// AttributeOf + "@" + AttributeName, spec.md §3, §4.4).
	AttributeName string
	// Validators names the validators the Validation interceptor
	// (builtin/interceptor/validation.go) runs against (current, proposed),
	// looked up in the context's ValidatorRegistry (Go functions or
	// compiled expr-lang expressions). A validator failing aborts the
	// write with ValidationError.
	Validators []string
	// Initializer, if non-nil, runs once per (subject, property) the first
	// time the owning subject is attached (spec.md §4.3.5): it seeds
	// default values, derived attributes, or bound validators.
	Initializer func(ctx context.Context, s Subject) error
}
