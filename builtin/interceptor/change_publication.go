package interceptor

import (
	"context"
	"time"

	"github.com/reactivegraph/interceptor/types"
)

// ChangePublication is the innermost write interceptor: once next succeeds,
// it emits a PropertyChange onto the engine's change stream, stamped with
// whatever change-source tag the write's context carries (spec.md §4.2
// "Change publication", §4.7 loopback suppression via ChangeSource).
type ChangePublication struct {
	stream types.ChangeStream
	clock  func() time.Time
}

func NewChangePublication(stream types.ChangeStream, clock func() time.Time) *ChangePublication {
	if clock == nil {
		clock = time.Now
	}
	return &ChangePublication{stream: stream, clock: clock}
}

func (c *ChangePublication) Order() int { return OrderChangePublication }

func (c *ChangePublication) InterceptWrite(ctx context.Context, ref types.PropertyReference, current, proposed any, next types.WriteNext) error {
	if err := next(ctx, proposed); err != nil {
		return err
	}
	c.stream.Publish(types.PropertyChange{
		Property:  ref,
		OldValue:  current,
		NewValue:  proposed,
		Timestamp: c.clock(),
		Source:    types.ChangeSourceFromContext(ctx),
	})
	return nil
}
