// Package interceptor provides the six standard read/write interceptors
// spec.md §4.2 requires every attached subject to carry: Equality-check,
// Parent-tracking, Lifecycle, Validation, Change-publication, and the
// Derived-property recorder. Each depends only on the types package, never
// on engine, so engine is free to construct and wire them without an
// import cycle (see types.LifecycleHooks).
//
// Modeled on the teacher's builtin/aspect package (bittoy-rule): small,
// independently testable, Order()-ranked middleware values constructed with
// plain functions rather than a framework's annotation/registration layer.
package interceptor

import (
	"context"
	"reflect"

	"github.com/reactivegraph/interceptor/types"
)

// Order constants position the standard interceptors in the write chain.
// Lower runs first on entry / last on unwind. Equality sits outermost so a
// no-op write short-circuits before any other interceptor sees it;
// change-publication sits innermost so it only fires after a write
// actually commits.
const (
	OrderEquality          = 0
	OrderParentTracking    = 100
	OrderLifecycle         = 200
	OrderValidation        = 300
	OrderChangePublication = 900

	OrderDerivedRecorder = 0
)

// Equality is the outermost write interceptor: if proposed equals current,
// the write is a no-op and next is never called (spec.md §4.2
// "Equality-check"). Per spec.md §4.1: value-type default equality for
// value types, reference equality for reference types. valuesEqual tries
// Go's == first — correct reference equality for pointers/subjects and
// correct default equality for comparable value types alike — and falls
// back to reflect.DeepEqual only for slices/maps, which == cannot compare
// at all.
type Equality struct{}

func NewEquality() *Equality { return &Equality{} }

func (e *Equality) Order() int { return OrderEquality }

func (e *Equality) InterceptWrite(ctx context.Context, ref types.PropertyReference, current, proposed any, next types.WriteNext) error {
	if valuesEqual(current, proposed) {
		return nil
	}
	return next(ctx, proposed)
}

func valuesEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}
