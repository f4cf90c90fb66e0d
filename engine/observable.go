package engine

import (
	"log"
	"sync"

	"github.com/reactivegraph/interceptor/types"
)

// observable is the concrete multi-subscriber types.ChangeStream (spec.md
// §4.5). Every subscriber gets its own bounded channel so one slow consumer
// can't stall delivery to the others; a full channel drops the oldest
// pending change and logs a warning rather than blocking the publisher,
// the same backpressure posture the teacher's chain execution gives a slow
// downstream node (fire-and-forget with a logged miss) rather than
// propagating backpressure into the write path itself.
type observable struct {
	mu     sync.RWMutex
	subs   map[int]chan types.PropertyChange
	nextID int
	logger *log.Logger
}

func newObservable(logger *log.Logger) *observable {
	return &observable{subs: make(map[int]chan types.PropertyChange), logger: logger}
}

func (o *observable) Subscribe(bufferSize int) (<-chan types.PropertyChange, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ch := make(chan types.PropertyChange, bufferSize)

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.mu.Unlock()

	unsubscribe := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (o *observable) Publish(change types.PropertyChange) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for id, ch := range o.subs {
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- change:
			default:
				o.logger.Printf("observable: dropped change for subscriber %d, channel full", id)
			}
		}
	}
}

var _ types.ChangeStream = (*observable)(nil)
