package types

import "time"

// ChangeSource tags a write with who caused it, so a bridge can recognize
// and suppress its own echoes (spec.md §4.8 "apply rules", design note on
// source identity). The zero value means "no source" (an ordinary,
// application-originated write).
type ChangeSource string

// NoSource is the ChangeSource of an ordinary application write.
const NoSource ChangeSource = ""

// PropertyChange is one committed write, as published onto the engine's
// change stream (spec.md §4.5).
type PropertyChange struct {
	Property  PropertyReference
	OldValue  any
	NewValue  any
	Timestamp time.Time
	Source    ChangeSource
}

// HasSource reports whether the change carries a non-empty source tag.
func (c PropertyChange) HasSource() bool { return c.Source != NoSource }

// ChangeStream is a multi-subscriber observable of PropertyChange records.
// Delivery to a given subscriber preserves the order writes committed on
// the emitting context (spec.md §5 "ordering guarantees"), but a slow
// subscriber can lose changes (see Subscribe); no ordering is promised
// across subscribers or across unrelated contexts.
type ChangeStream interface {
	// Subscribe registers a new subscriber with the given buffer capacity
	// and returns a channel of changes plus an Unsubscribe function. A
	// full buffer drops that subscriber's oldest queued change and logs a
	// warning; the subscriber stays subscribed.
	Subscribe(bufferSize int) (ch <-chan PropertyChange, unsubscribe func())
	// Publish emits a change to all current subscribers. Never blocks
	// longer than it takes to enqueue into each subscriber's bounded
	// channel.
	Publish(change PropertyChange)
}
