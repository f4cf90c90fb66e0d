package interceptor

import (
	"context"

	"github.com/reactivegraph/interceptor/types"
)

// Validation runs every validator named in the target property's metadata
// against the proposed value before allowing the write to proceed, failing
// with ValidationError on the first rejection (spec.md §4.2 "Validation").
// Unknown validator names are treated as a pass-through rather than a
// failure: a property referencing a validator nobody registered yet is a
// configuration gap the caller should catch in tests, not a runtime write
// failure.
type Validation struct {
	registry types.ValidatorRegistry
}

func NewValidation(registry types.ValidatorRegistry) *Validation {
	return &Validation{registry: registry}
}

func (v *Validation) Order() int { return OrderValidation }

func (v *Validation) InterceptWrite(ctx context.Context, ref types.PropertyReference, current, proposed any, next types.WriteNext) error {
	meta, ok := ref.Subject.Metadata(ref.Property)
	if ok {
		for _, name := range meta.Validators {
			validator, found := v.registry.Lookup(name)
			if !found {
				continue
			}
			if err := validator(ctx, ref, current, proposed); err != nil {
				if _, isValidationErr := err.(*types.ValidationError); isValidationErr {
					return err
				}
				return &types.ValidationError{Property: ref, Proposed: proposed, Rule: name, Err: err}
			}
		}
	}
	return next(ctx, proposed)
}
