package interceptor

import (
	"context"

	"github.com/reactivegraph/interceptor/types"
)

// ParentTracking walks the old and new property values for directly
// contained subjects and hands both sets to hooks.UpdateChildren, which
// rebuilds the property's children-edge bookkeeping in the registry (spec.md
// §4.2 "Parent-tracking"). It does not itself change reference counts or
// fire attach/detach — that's Lifecycle's job, run independently off the
// same ExtractContained sets.
type ParentTracking struct {
	hooks types.LifecycleHooks
}

func NewParentTracking(hooks types.LifecycleHooks) *ParentTracking {
	return &ParentTracking{hooks: hooks}
}

func (p *ParentTracking) Order() int { return OrderParentTracking }

func (p *ParentTracking) InterceptWrite(ctx context.Context, ref types.PropertyReference, current, proposed any, next types.WriteNext) error {
	old := types.ExtractContained(current)
	err := next(ctx, proposed)
	if err != nil {
		return err
	}
	new_ := types.ExtractContained(proposed)
	p.hooks.UpdateChildren(ctx, ref, old, new_)
	return nil
}
