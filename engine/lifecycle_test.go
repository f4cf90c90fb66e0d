package engine_test

import (
	"context"
	"testing"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
)

// TestSelfReference runs spec.md §8 scenario 1: a subject made its own
// father, then cleared and detached, must leave the registry empty.
func TestSelfReference(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()

	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	if got := eng.Registry().Size(); got != 1 {
		t.Fatalf("after attach: registry size = %d, want 1", got)
	}

	if err := person.Father.Write(ctx, person); err != nil {
		t.Fatalf("Write(father, self): %v", err)
	}
	if got := eng.Registry().Size(); got != 1 {
		t.Fatalf("after self-reference: registry size = %d, want 1 (no new subject)", got)
	}

	rs, ok := eng.Registry().Lookup(person)
	if !ok {
		t.Fatal("person not found in registry")
	}
	rp, ok := rs.Property("father")
	if !ok {
		t.Fatal("father property not registered")
	}
	if got := len(rp.Children()); got != 1 {
		t.Fatalf("father.children length = %d, want 1", got)
	}
	if got := rs.RefCount(); got != 2 {
		t.Fatalf("refcount = %d, want 2 (root + self-reference edge)", got)
	}

	if err := person.Father.Write(ctx, nil); err != nil {
		t.Fatalf("Write(father, nil): %v", err)
	}
	if got := rs.RefCount(); got != 1 {
		t.Fatalf("refcount after clearing self-reference = %d, want 1 (root only)", got)
	}
	if err := eng.DetachRoot(ctx, person); err != nil {
		t.Fatalf("DetachRoot: %v", err)
	}
	if got := eng.Registry().Size(); got != 0 {
		t.Fatalf("after detach: registry size = %d, want 0", got)
	}
}

// TestCycleKeepsBothAlive runs spec.md §8 scenario 2: a mother/mother cycle
// keeps both subjects registered as long as any external edge reaches
// either of them, and re-pointing the external edge releases the whole
// cycle transitively (the cascading-detach behavior of
// Context.decrementAndMaybeDetach/DetachRoot).
func TestCycleKeepsBothAlive(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()

	a := domain.NewPerson(eng)
	b := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, a); err != nil {
		t.Fatalf("AttachRoot(a): %v", err)
	}

	if err := a.Mother.Write(ctx, b); err != nil {
		t.Fatalf("Write(a.mother, b): %v", err)
	}
	if err := b.Mother.Write(ctx, a); err != nil {
		t.Fatalf("Write(b.mother, a): %v", err)
	}
	if got := eng.Registry().Size(); got != 2 {
		t.Fatalf("with cycle held: registry size = %d, want 2", got)
	}

	newPerson := domain.NewPerson(eng)
	if err := a.Mother.Write(ctx, newPerson); err != nil {
		t.Fatalf("Write(a.mother, newPerson): %v", err)
	}
	// b's only holder was a.mother; once it's gone b detaches, and the
	// cascade releases the b.mother=a edge it held on a in turn, leaving
	// only a (root) and newPerson (a.mother).
	if got := eng.Registry().Size(); got != 2 {
		t.Fatalf("after re-pointing a.mother: registry size = %d, want 2 (a, newPerson)", got)
	}
	if _, ok := eng.Registry().Lookup(b); ok {
		t.Fatal("b should have detached once a.mother stopped referencing it")
	}

	if err := a.Mother.Write(ctx, nil); err != nil {
		t.Fatalf("Write(a.mother, nil): %v", err)
	}
	if err := eng.DetachRoot(ctx, a); err != nil {
		t.Fatalf("DetachRoot(a): %v", err)
	}
	if got := eng.Registry().Size(); got != 0 {
		t.Fatalf("after clearing and detaching root: registry size = %d, want 0", got)
	}
}

// TestChildrenCollection exercises an ordered sequence of contained
// subjects: every element is counted toward the parent's refcount, and
// removing an element releases only that element.
func TestChildrenCollection(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()

	parent := domain.NewPerson(eng)
	c1 := domain.NewPerson(eng)
	c2 := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, parent); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	if err := parent.Children.Write(ctx, []*domain.Person{c1, c2}); err != nil {
		t.Fatalf("Write(children): %v", err)
	}
	if got := eng.Registry().Size(); got != 3 {
		t.Fatalf("with both children: registry size = %d, want 3", got)
	}

	// spec.md §3 invariant: a child's Parents edge carries the same index
	// the parent's Children edge carries for it (bidirectional bookkeeping
	// must never diverge).
	c2rs, ok := eng.Registry().Lookup(c2)
	if !ok {
		t.Fatal("c2 not registered")
	}
	parents := c2rs.Parents()
	if len(parents) != 1 {
		t.Fatalf("c2 parents = %d, want 1", len(parents))
	}
	if parents[0].IndexOrKey != 1 {
		t.Fatalf("c2's parent edge index = %v, want 1 (its position in children)", parents[0].IndexOrKey)
	}

	if err := parent.Children.Write(ctx, []*domain.Person{c1}); err != nil {
		t.Fatalf("Write(children, [c1]): %v", err)
	}
	if got := eng.Registry().Size(); got != 2 {
		t.Fatalf("after dropping c2: registry size = %d, want 2", got)
	}
	if _, ok := eng.Registry().Lookup(c2); ok {
		t.Fatal("c2 should have detached")
	}
	if _, ok := eng.Registry().Lookup(c1); !ok {
		t.Fatal("c1 should still be registered")
	}
}
