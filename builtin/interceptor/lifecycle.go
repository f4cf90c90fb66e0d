package interceptor

import (
	"context"

	"github.com/reactivegraph/interceptor/types"
)

// Lifecycle computes the symmetric difference between the subjects reachable
// from the old and new property values and hands it to
// hooks.ApplyLifecycleDiff, which applies the reference-count deltas and
// fires attach/detach only for subjects that cross the 0/1 boundary (spec.md
// §4.2 "Lifecycle", §4.3). Runs after next so a failed write (rejected
// downstream, e.g. by Validation — though Validation sits further in and
// would never see a value Lifecycle already committed to) never leaves
// half-applied refcount state.
type Lifecycle struct {
	hooks types.LifecycleHooks
}

func NewLifecycle(hooks types.LifecycleHooks) *Lifecycle {
	return &Lifecycle{hooks: hooks}
}

func (l *Lifecycle) Order() int { return OrderLifecycle }

func (l *Lifecycle) InterceptWrite(ctx context.Context, ref types.PropertyReference, current, proposed any, next types.WriteNext) error {
	old := types.ExtractContained(current)
	if err := next(ctx, proposed); err != nil {
		return err
	}
	new_ := types.ExtractContained(proposed)
	return l.hooks.ApplyLifecycleDiff(ctx, ref, old, new_)
}
