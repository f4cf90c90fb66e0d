package interceptor

import (
	"context"

	"github.com/reactivegraph/interceptor/types"
)

// DerivedRecorder is the outermost read interceptor: it notes every
// property read into the currently-recording derived property's dependency
// set (spec.md §4.2 "Derived-property recorder", §4.5). A no-op when no
// derived property is recomputing on the current call chain.
type DerivedRecorder struct{}

func NewDerivedRecorder() *DerivedRecorder { return &DerivedRecorder{} }

func (d *DerivedRecorder) Order() int { return OrderDerivedRecorder }

func (d *DerivedRecorder) InterceptRead(ctx context.Context, ref types.PropertyReference, next types.ReadNext) (any, error) {
	types.RecordRead(ctx, ref)
	return next(ctx)
}
