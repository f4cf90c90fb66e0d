package types

import "context"

// LifecycleHooks is the seam between the builtin Parent-tracking/Lifecycle
// write interceptors (builtin/interceptor) and the concrete registry +
// reference-counting machinery (engine.Context). Keeping this as an
// interface in types, rather than having builtin/interceptor import engine
// directly, avoids an import cycle (engine constructs and wires the builtin
// interceptors, so engine must be free to depend on builtin/interceptor,
// not the other way around).
type LifecycleHooks interface {
	// UpdateChildren rebuilds the registry's Children/Parents bookkeeping
	// for one property's edge set, given the subjects directly contained
	// in the old and new values. Pure bookkeeping: no refcount changes, no
	// attach/detach events (spec.md §4.2 "Parent-tracking").
	UpdateChildren(ctx context.Context, property PropertyReference, old, new_ []ContainedSubject)

	// ApplyLifecycleDiff computes the symmetric difference between old and
	// new, applies the corresponding reference-count deltas, and fires
	// attach for every subject transitioning 0->1 and detach for every
	// subject transitioning 1->0 (spec.md §4.2 "Lifecycle", §4.3). Subjects
	// present in both sets generate no events.
	ApplyLifecycleDiff(ctx context.Context, property PropertyReference, old, new_ []ContainedSubject) error
}
