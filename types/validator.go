package types

import "context"

// Validator checks a proposed property value, returning a descriptive error
// (normally wrapped in ValidationError by the caller) if the value is
// rejected. ctx carries the enclosing write's context, ref identifies the
// property being validated, and current is the value being replaced (nil
// for a first write).
type Validator func(ctx context.Context, ref PropertyReference, current, proposed any) error

// ValidatorRegistry resolves the named validators a property's metadata
// lists (PropertyMetadata.Validators) to their compiled implementation.
// Kept as an interface in types so the Validation interceptor
// (builtin/interceptor) depends only on types, never on the concrete
// expr-lang-backed registry engine builds it from.
type ValidatorRegistry interface {
	Lookup(name string) (Validator, bool)
}
