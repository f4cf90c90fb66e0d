package types

import "context"

// SubjectFactory constructs an attached subject of the declared type named
// by a property's metadata (or a type hint), for use when the subject-update
// apply path needs to materialize a subject it has not seen before
// (spec.md §6, §4.8 "apply rules").
type SubjectFactory interface {
	New(ctx context.Context, meta PropertyMetadata, typeHint string) (Subject, error)
}

// SubjectFactoryFunc adapts a function to a SubjectFactory.
type SubjectFactoryFunc func(ctx context.Context, meta PropertyMetadata, typeHint string) (Subject, error)

func (f SubjectFactoryFunc) New(ctx context.Context, meta PropertyMetadata, typeHint string) (Subject, error) {
	return f(ctx, meta, typeHint)
}

// PathProvider maps a property to the path segment a particular bridge
// exposes it under, or reports the property excluded from that bridge
// (spec.md §6) by returning ok == false.
type PathProvider interface {
	Path(ref PropertyReference) (path string, ok bool)
}

// PathProviderFunc adapts a function to a PathProvider.
type PathProviderFunc func(ref PropertyReference) (string, bool)

func (f PathProviderFunc) Path(ref PropertyReference) (string, bool) { return f(ref) }
