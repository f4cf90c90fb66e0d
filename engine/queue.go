package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/reactivegraph/interceptor/types"
)

// ChangeQueueProcessor consumes the engine's change stream on behalf of a
// bridge, coalescing, batching and retrying delivery to a write handler
// (spec.md §4.7). Grounded on the teacher's ChainAggregationContext
// (engine/chain_aggregation_context.go, engine/chain_aggregation.go in
// bittoy-rule), which coalesces fan-in messages arriving within a window
// before forwarding a combined result downstream — generalized here from
// "wait for N branches" to "wait buffer_time, collapse to latest value per
// property".
type ChangeQueueProcessor struct {
	stream       types.ChangeStream
	source       types.ChangeSource
	bufferTime   time.Duration
	maxBatch     int
	retryTime    time.Duration
	retryCap     int
	filter       func(types.PropertyReference) bool
	writeHandler func(ctx context.Context, batch []types.PropertyChange) error
	logger       *log.Logger

	mu         sync.Mutex
	retryQueue [][]types.PropertyChange

	stop chan struct{}
	done chan struct{}
}

// QueueOption configures a ChangeQueueProcessor.
type QueueOption func(*ChangeQueueProcessor)

func WithBufferTime(d time.Duration) QueueOption { return func(p *ChangeQueueProcessor) { p.bufferTime = d } }
func WithMaxBatchSize(n int) QueueOption         { return func(p *ChangeQueueProcessor) { p.maxBatch = n } }
func WithRetryTime(d time.Duration) QueueOption  { return func(p *ChangeQueueProcessor) { p.retryTime = d } }
func WithRetryQueueSize(n int) QueueOption       { return func(p *ChangeQueueProcessor) { p.retryCap = n } }

func WithPropertyFilter(fn func(types.PropertyReference) bool) QueueOption {
	return func(p *ChangeQueueProcessor) { p.filter = fn }
}

func WithWriteHandler(fn func(ctx context.Context, batch []types.PropertyChange) error) QueueOption {
	return func(p *ChangeQueueProcessor) { p.writeHandler = fn }
}

// NewChangeQueueProcessor builds a processor sourced from stream, tagged
// with source for loopback suppression (spec.md §4.7: "changes whose source
// tag equals this processor's source identity are filtered out").
func NewChangeQueueProcessor(stream types.ChangeStream, source types.ChangeSource, logger *log.Logger, opts ...QueueOption) *ChangeQueueProcessor {
	p := &ChangeQueueProcessor{
		stream:     stream,
		source:     source,
		bufferTime: 50 * time.Millisecond,
		maxBatch:   256,
		retryTime:  time.Second,
		retryCap:   64,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes to the change stream and begins batching in a background
// goroutine. Call Stop to unsubscribe and wait for the goroutine to exit.
func (p *ChangeQueueProcessor) Start(ctx context.Context) {
	ch, unsubscribe := p.stream.Subscribe(p.maxBatch * 4)
	go p.run(ctx, ch, unsubscribe)
}

func (p *ChangeQueueProcessor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *ChangeQueueProcessor) run(ctx context.Context, ch <-chan types.PropertyChange, unsubscribe func()) {
	defer close(p.done)
	defer unsubscribe()

	pending := make(map[types.PropertyReference]types.PropertyChange)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]types.PropertyChange, 0, len(pending))
		for _, c := range pending {
			batch = append(batch, c)
		}
		pending = make(map[types.PropertyReference]types.PropertyChange)
		p.deliver(ctx, batch)
	}

	for {
		select {
		case <-p.stop:
			flush()
			return
		case change, ok := <-ch:
			if !ok {
				flush()
				return
			}
			if p.source != types.NoSource && change.Source == p.source {
				continue // loopback suppression
			}
			if p.filter != nil && !p.filter(change.Property) {
				continue
			}
			// Coalesce: latest value per property wins within the window
			// (spec.md §4.7 "preserving per-property latest-value").
			pending[change.Property] = change
			if timer == nil {
				timer = time.NewTimer(p.bufferTime)
				timerC = timer.C
			}
			if len(pending) >= p.maxBatch {
				if timer != nil {
					timer.Stop()
					timer = nil
					timerC = nil
				}
				flush()
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		}
	}
}

// deliver calls the write handler synchronously — "the next batch is not
// built until the current handler call completes" (spec.md §4.7) — and on
// failure enqueues the batch for retry after retryTime.
func (p *ChangeQueueProcessor) deliver(ctx context.Context, batch []types.PropertyChange) {
	if p.writeHandler == nil {
		return
	}
	if err := p.writeHandler(ctx, batch); err != nil {
		p.logger.Printf("queue: write handler failed, scheduling retry: %v", err)
		p.enqueueRetry(batch)
		return
	}
}

// enqueueRetry schedules batch for a retry after retryTime. Retries run
// detached from the delivering call's context (context.Background()),
// since that context may belong to a request that has already returned by
// the time the retry timer fires.
func (p *ChangeQueueProcessor) enqueueRetry(batch []types.PropertyChange) {
	p.mu.Lock()
	if len(p.retryQueue) >= p.retryCap {
		p.retryQueue = p.retryQueue[1:]
		p.logger.Printf("queue: retry queue full (cap=%d), dropped oldest pending batch", p.retryCap)
	}
	p.retryQueue = append(p.retryQueue, batch)
	p.mu.Unlock()

	time.AfterFunc(p.retryTime, func() { p.retryOne(context.Background(), batch) })
}

func (p *ChangeQueueProcessor) retryOne(ctx context.Context, batch []types.PropertyChange) {
	if p.writeHandler == nil {
		return
	}
	err := p.writeHandler(ctx, batch)
	p.mu.Lock()
	p.removeFromRetryQueue(batch)
	p.mu.Unlock()
	if err != nil {
		p.logger.Printf("queue: retry failed, scheduling another: %v", err)
		p.enqueueRetry(batch)
	}
}

func (p *ChangeQueueProcessor) removeFromRetryQueue(batch []types.PropertyChange) {
	for i, b := range p.retryQueue {
		if len(b) == len(batch) {
			p.retryQueue = append(p.retryQueue[:i], p.retryQueue[i+1:]...)
			return
		}
	}
}

