package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/types"
)

// TestChangeStreamOrderingPerSubscriber verifies that a single subscriber
// sees the writes committed on one context in commit order (spec.md §5
// ordering guarantees).
func TestChangeStreamOrderingPerSubscriber(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	ch, unsubscribe := eng.Changes().Subscribe(16)
	defer unsubscribe()

	names := []string{"one", "two", "three"}
	for _, n := range names {
		if err := person.FirstName.Write(ctx, n); err != nil {
			t.Fatalf("Write(%q): %v", n, err)
		}
	}

	for _, want := range names {
		select {
		case change := <-ch:
			got, ok := change.NewValue.(string)
			if !ok || got != want {
				t.Fatalf("change.NewValue = %v, want %q", change.NewValue, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %q", want)
		}
	}
}

// TestChangeStreamDropsOldestOnFullSubscriber exercises the
// drop-oldest-and-warn backpressure policy (spec.md §9 design notes): a
// subscriber that never drains does not block the publisher, and its
// channel ends up holding the most recent changes rather than the oldest.
func TestChangeStreamDropsOldestOnFullSubscriber(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	ch, unsubscribe := eng.Changes().Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		if err := person.FirstName.Write(ctx, string(rune('a'+i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	select {
	case change := <-ch:
		if got := change.NewValue.(string); got != "e" {
			t.Fatalf("surviving change = %q, want the most recent write %q", got, "e")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the surviving change")
	}
}

// TestChangeQueueProcessorCoalescesAndBatches verifies the §4.7 batching
// window collapses multiple writes to the same property into its latest
// value, delivered as a single batch to the write handler.
func TestChangeQueueProcessorCoalescesAndBatches(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	delivered := make(chan []types.PropertyChange, 4)
	proc := engine.NewChangeQueueProcessor(eng.Changes(), types.NoSource, eng.Config().Logger,
		engine.WithBufferTime(20*time.Millisecond),
		engine.WithWriteHandler(func(ctx context.Context, batch []types.PropertyChange) error {
			delivered <- batch
			return nil
		}),
	)
	proc.Start(ctx)
	defer proc.Stop()

	for _, n := range []string{"a", "b", "c"} {
		if err := person.FirstName.Write(ctx, n); err != nil {
			t.Fatalf("Write(%q): %v", n, err)
		}
	}

	select {
	case batch := <-delivered:
		if len(batch) != 1 {
			t.Fatalf("batch length = %d, want 1 (coalesced)", len(batch))
		}
		if got := batch[0].NewValue.(string); got != "c" {
			t.Fatalf("coalesced value = %q, want latest write %q", got, "c")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// TestChangeQueueProcessorSuppressesLoopback verifies a processor never
// delivers changes tagged with its own source (spec.md §4.7 loopback
// suppression).
func TestChangeQueueProcessorSuppressesLoopback(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	const mySource types.ChangeSource = "test-source"
	delivered := make(chan []types.PropertyChange, 4)
	proc := engine.NewChangeQueueProcessor(eng.Changes(), mySource, eng.Config().Logger,
		engine.WithBufferTime(10*time.Millisecond),
		engine.WithWriteHandler(func(ctx context.Context, batch []types.PropertyChange) error {
			delivered <- batch
			return nil
		}),
	)
	proc.Start(ctx)
	defer proc.Stop()

	loopbackCtx := types.WithChangeSource(ctx, mySource)
	if err := person.FirstName.Write(loopbackCtx, "ignored"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := person.LocalFlag.Write(ctx, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case batch := <-delivered:
		for _, c := range batch {
			if c.Property.Property == "firstName" {
				t.Fatal("loopback-sourced change was delivered")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
