// Package domain is runnable documentation: a small subject type exercising
// every corner of the core engine (self-reference, cycles, collections and
// a derived property), the same role the teacher's example/ package plays
// for bittoy-rule's rule chains, and shared by the engine/protocol test
// suites so they exercise a real declared subject type rather than an
// ad-hoc test double.
package domain

import (
	"context"

	"github.com/reactivegraph/interceptor/engine"
)

// Person is a statically declared subject type: firstName is a plain
// stored property, father/mother are self-referential subject-valued
// properties (spec.md §8 scenarios 1-2), children is an ordered collection
// of subjects, and localFlag/source/computed exercise the derived-property
// dependency re-recording of scenario 5 (Computed = localFlag OR source,
// writable via a setter that flips localFlag).
type Person struct {
	*engine.Base

	FirstName *engine.Property[string]
	Father    *engine.Property[*Person]
	Mother    *engine.Property[*Person]
	Children  *engine.Property[[]*Person]

	LocalFlag *engine.Property[bool]
	Source    *engine.Property[bool]
	Computed  *engine.Property[bool]
}

// NewPerson declares a fresh, detached Person against ctx. ctx may be nil
// for subjects that will never be attached to a registry.
func NewPerson(ctx *engine.Context) *Person {
	base := engine.NewBase(ctx, "Person")
	p := &Person{Base: base}

	p.FirstName = engine.NewProperty[string](base, "firstName")
	p.Father = engine.NewProperty[*Person](base, "father")
	p.Mother = engine.NewProperty[*Person](base, "mother")
	p.Children = engine.NewProperty[[]*Person](base, "children")

	p.LocalFlag = engine.NewProperty[bool](base, "localFlag")
	p.Source = engine.NewProperty[bool](base, "source")
	p.Computed = engine.NewProperty[bool](base, "computed",
		engine.WithDerived(func(ctx context.Context) (bool, error) {
			local, err := p.LocalFlag.Read(ctx)
			if err != nil {
				return false, err
			}
			if local {
				return true, nil // short-circuit: source is never read
			}
			return p.Source.Read(ctx)
		}),
		engine.WithSetter(func(ctx context.Context, value bool) error {
			return p.LocalFlag.Write(ctx, value)
		}),
	)
	return p
}
