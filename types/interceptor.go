package types

import "context"

// ReadNext is the continuation passed to a ReadInterceptor. Calling it
// invokes the next interceptor in the chain (or the property's stored
// value / reader function, at the innermost position) and returns its
// result. A ReadInterceptor must call ReadNext exactly once, unless it
// short-circuits by returning its own value without calling it.
type ReadNext func(ctx context.Context) (any, error)

// ReadInterceptor wraps a property read. It runs outermost-first on entry
// and unwinds in reverse, middleware-style (spec.md §4.2).
type ReadInterceptor interface {
	// Order ranks interceptors for deterministic chain construction; lower
	// values sit closer to the outside of the chain (run first on entry,
	// last on unwind). Ties break by insertion order.
	Order() int
	InterceptRead(ctx context.Context, ref PropertyReference, next ReadNext) (any, error)
}

// WriteNext is the continuation passed to a WriteInterceptor. The caller
// supplies the effective value to store — it need not equal the proposed
// value a middleware layer was given, letting a layer transform the value
// before it reaches the store. A WriteInterceptor must call WriteNext at
// most once.
type WriteNext func(ctx context.Context, effectiveValue any) error

// WriteInterceptor wraps a property write.
type WriteInterceptor interface {
	Order() int
	InterceptWrite(ctx context.Context, ref PropertyReference, current, proposed any, next WriteNext) error
}

// ReadInterceptorFunc adapts a function plus a fixed order to a
// ReadInterceptor, for small one-off interceptors that don't need their own
// type. Always register it by pointer (&ReadInterceptorFunc{...}): a
// collection identifies and removes interceptors by interface equality, and
// a struct holding a func field is only comparable through its pointer, not
// by value.
type ReadInterceptorFunc struct {
	OrderValue int
	Fn         func(ctx context.Context, ref PropertyReference, next ReadNext) (any, error)
}

func (f *ReadInterceptorFunc) Order() int { return f.OrderValue }

func (f *ReadInterceptorFunc) InterceptRead(ctx context.Context, ref PropertyReference, next ReadNext) (any, error) {
	return f.Fn(ctx, ref, next)
}

// WriteInterceptorFunc adapts a function plus a fixed order to a
// WriteInterceptor. Always register it by pointer, for the same reason as
// ReadInterceptorFunc above.
type WriteInterceptorFunc struct {
	OrderValue int
	Fn         func(ctx context.Context, ref PropertyReference, current, proposed any, next WriteNext) error
}

func (f *WriteInterceptorFunc) Order() int { return f.OrderValue }

func (f *WriteInterceptorFunc) InterceptWrite(ctx context.Context, ref PropertyReference, current, proposed any, next WriteNext) error {
	return f.Fn(ctx, ref, current, proposed, next)
}

// InterceptorCollection is an ordered, mutable set of read and write
// interceptors attachable to a subject. Collections form a hierarchy: a
// child subject attached to a parent inherits the parent's collection by
// union, not replacement (spec.md §4.2); InheritFrom/UninheritFrom implement
// that union/removal.
type InterceptorCollection interface {
	// AddRead/AddWrite register an interceptor owned directly by this
	// collection's subject (not inherited).
	AddRead(i ReadInterceptor)
	AddWrite(i WriteInterceptor)
	// RemoveRead/RemoveWrite detach a previously added interceptor.
	RemoveRead(i ReadInterceptor)
	RemoveWrite(i WriteInterceptor)

	// InheritFrom merges another collection's interceptors into this one as
	// "inherited" entries, distinct from locally owned ones so they can be
	// removed independently by UninheritFrom. Calling InheritFrom twice
	// with the same source is idempotent.
	InheritFrom(source InterceptorCollection)
	// UninheritFrom removes exactly the interceptors this collection
	// previously inherited from source.
	UninheritFrom(source InterceptorCollection)

	// ReadChain/WriteChain return the effective, ordered interceptor chain
	// (own + inherited, sorted by Order) to run for a read or write.
	ReadChain() []ReadInterceptor
	WriteChain() []WriteInterceptor
}
