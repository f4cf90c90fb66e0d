package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
)

// waitFor polls cond until it returns true or the deadline elapses, for
// assertions against the derived registry's asynchronous recompute
// (engine/derived.go: recomputation after the first read runs on a
// background goroutine reacting to the change stream).
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestDerivedRecomputesOnDependencyChange runs spec.md §8 scenario 5:
// writing a recorded dependency (source) triggers recomputation and
// publishes a change when the derived value actually changes.
func TestDerivedRecomputesOnDependencyChange(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	got, err := person.Computed.Read(ctx)
	if err != nil {
		t.Fatalf("initial Read(computed): %v", err)
	}
	if got != false {
		t.Fatalf("computed = %v, want false", got)
	}

	if err := person.Source.Write(ctx, true); err != nil {
		t.Fatalf("Write(source, true): %v", err)
	}
	waitFor(t, func() bool {
		v, err := person.Computed.Read(ctx)
		return err == nil && v == true
	})
}

// TestDerivedShortCircuitStopsReRecordingSource runs the short-circuit half
// of scenario 5: once localFlag is true, compute returns before reading
// source, so source's dependency edge is dropped and further source writes
// no longer trigger recomputation of computed.
func TestDerivedShortCircuitStopsReRecordingSource(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	if _, err := person.Computed.Read(ctx); err != nil {
		t.Fatalf("initial Read: %v", err)
	}
	if err := person.LocalFlag.Write(ctx, true); err != nil {
		t.Fatalf("Write(localFlag, true): %v", err)
	}
	waitFor(t, func() bool {
		v, err := person.Computed.Read(ctx)
		return err == nil && v == true
	})

	// source is no longer a recorded dependency; flipping it must not
	// change the already-short-circuited computed value.
	if err := person.Source.Write(ctx, true); err != nil {
		t.Fatalf("Write(source, true): %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	got, err := person.Computed.Read(ctx)
	if err != nil {
		t.Fatalf("Read(computed): %v", err)
	}
	if got != true {
		t.Fatalf("computed = %v, want true (still short-circuited by localFlag)", got)
	}
}

// TestDerivedSetterWritesUnderlyingState verifies that writing a derived
// property with a setter mutates the underlying state the setter targets,
// not some separate cached slot.
func TestDerivedSetterWritesUnderlyingState(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	if err := person.Computed.Write(ctx, true); err != nil {
		t.Fatalf("Write(computed, true): %v", err)
	}
	local, err := person.LocalFlag.Read(ctx)
	if err != nil {
		t.Fatalf("Read(localFlag): %v", err)
	}
	if local != true {
		t.Fatalf("localFlag = %v, want true after Write(computed, true)", local)
	}
}
