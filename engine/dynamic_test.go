package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/types"
)

// TestAddDynamicPropertyParticipatesInTrackingAndRegistry runs spec.md §4.6:
// a property added at runtime, after its subject is already attached, is
// visible to the registry and the change stream exactly like a static
// property declared at construction time.
func TestAddDynamicPropertyParticipatesInTrackingAndRegistry(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	nickname := engine.AddDynamicProperty[string](person.Base, "nickname")

	names := person.DynamicPropertyNames()
	if len(names) != 1 || names[0] != "nickname" {
		t.Fatalf("DynamicPropertyNames = %v, want [nickname]", names)
	}

	rs, ok := eng.Registry().Lookup(person)
	if !ok {
		t.Fatal("person not registered")
	}
	if _, ok := rs.Property("nickname"); !ok {
		t.Fatal("nickname not visible to the registry before its first write")
	}

	ch, unsubscribe := eng.Changes().Subscribe(4)
	defer unsubscribe()

	if err := nickname.Write(ctx, "Ace"); err != nil {
		t.Fatalf("Write(nickname): %v", err)
	}
	select {
	case change := <-ch:
		if change.Property.Property != "nickname" || change.NewValue != "Ace" {
			t.Fatalf("unexpected change: %+v", change)
		}
	default:
		t.Fatal("expected a change published for the dynamic property write")
	}

	got, err := nickname.Read(ctx)
	if err != nil {
		t.Fatalf("Read(nickname): %v", err)
	}
	if got != "Ace" {
		t.Fatalf("nickname = %q, want Ace", got)
	}
}

// TestAddAttributePathUsesAtSeparator runs spec.md §4.1/§4.6: an attribute's
// canonical path suffixes its base property's path with "@name", never a
// dot, and the attribute is itself a registered property.
func TestAddAttributePathUsesAtSeparator(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	if err := person.FirstName.Write(ctx, "Ada"); err != nil {
		t.Fatalf("Write(firstName): %v", err)
	}

	verified := engine.AddAttribute[bool](person.Base, "firstName", "verified")
	if err := verified.Write(ctx, true); err != nil {
		t.Fatalf("Write(firstName@verified): %v", err)
	}

	rs, ok := eng.Registry().Lookup(person)
	if !ok {
		t.Fatal("person not registered")
	}
	rp, ok := rs.Property("firstName@verified")
	if !ok {
		t.Fatal("firstName@verified not registered")
	}
	if got, want := rp.Path(), "firstName@verified"; got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
	if got, err := verified.Read(ctx); err != nil || !got {
		t.Fatalf("Read(firstName@verified) = %v, %v; want true, nil", got, err)
	}
}

// TestGojaDerivedRecomputesFromOtherProperties runs spec.md §4.6's "derived
// dynamic property": the expression reads another property by name through
// the subject's own tracked accessors, so it recomputes when that property
// changes, the same dependency-recording discipline a Go-compute derived
// property gets (engine/derived_test.go).
func TestGojaDerivedRecomputesFromOtherProperties(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	if err := person.FirstName.Write(ctx, "Ada"); err != nil {
		t.Fatalf("Write(firstName): %v", err)
	}

	opt, err := engine.GojaDerived[bool](person.Base, `properties.firstName == "Ada"`)
	if err != nil {
		t.Fatalf("GojaDerived: %v", err)
	}
	isAda := engine.AddDynamicProperty[bool](person.Base, "isAda", opt)

	got, err := isAda.Read(ctx)
	if err != nil {
		t.Fatalf("Read(isAda): %v", err)
	}
	if !got {
		t.Fatal("isAda = false, want true while firstName=Ada")
	}

	if err := person.FirstName.Write(ctx, "Grace"); err != nil {
		t.Fatalf("Write(firstName, Grace): %v", err)
	}
	waitFor(t, func() bool {
		v, err := isAda.Read(ctx)
		return err == nil && v == false
	})
}

// TestRegisterExprValidatorRejectsWrite runs spec.md §4.2 "Validation": a
// RegisterExpr-compiled rule rejects a write synchronously with
// ValidationError and never commits, while a passing write proceeds
// normally (spec.md §7 "no change emitted" on rejection).
func TestRegisterExprValidatorRejectsWrite(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	if err := eng.Validators().RegisterExpr("nonEmpty", "len(proposed) > 0"); err != nil {
		t.Fatalf("RegisterExpr: %v", err)
	}

	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	nickname := engine.AddDynamicProperty[string](person.Base, "nickname", engine.WithValidators[string]("nonEmpty"))

	if err := nickname.Write(ctx, "Ace"); err != nil {
		t.Fatalf("Write(\"Ace\"): %v", err)
	}

	// The proposed value must actually differ from the stored one, or the
	// outermost Equality interceptor short-circuits before Validation ever
	// runs (spec.md §4.2 "Equality-check (outermost on write)").
	err := nickname.Write(ctx, "")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Write(\"\") error = %v, want *types.ValidationError", err)
	}
	if verr.Rule != "nonEmpty" {
		t.Fatalf("ValidationError.Rule = %q, want nonEmpty", verr.Rule)
	}

	got, err := nickname.Read(ctx)
	if err != nil {
		t.Fatalf("Read(nickname): %v", err)
	}
	if got != "Ace" {
		t.Fatalf("nickname after rejected write = %q, want unchanged Ace", got)
	}
}
