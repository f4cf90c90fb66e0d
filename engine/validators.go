package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/reactivegraph/interceptor/types"
)

// validatorRegistry is the concrete types.ValidatorRegistry. Validators are
// registered either as Go functions (RegisterFunc, for anything that needs
// to reach into engine-internal state) or as compiled expr-lang boolean
// expressions (RegisterExpr) — the same pattern the teacher's rule engine
// uses expr-lang for (components/filter in bittoy-rule compiles a boolean
// expr.Program per filter node at configuration time and evaluates it per
// message rather than re-parsing on every run).
type validatorRegistry struct {
	mu       sync.RWMutex
	byName   map[string]types.Validator
	programs map[string]*vm.Program
}

func newValidatorRegistry() *validatorRegistry {
	return &validatorRegistry{
		byName:   make(map[string]types.Validator),
		programs: make(map[string]*vm.Program),
	}
}

func (r *validatorRegistry) Lookup(name string) (types.Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

// RegisterFunc registers a validator implemented directly in Go.
func (r *validatorRegistry) RegisterFunc(name string, v types.Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = v
}

// RegisterExpr compiles source as an expr-lang boolean expression and
// registers it under name. The expression sees "current" and "proposed" as
// environment variables and must evaluate to a bool; false rejects the
// write with a ValidationError whose Rule is name.
func (r *validatorRegistry) RegisterExpr(name, source string) error {
	env := map[string]any{"current": nil, "proposed": nil}
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compiling validator %q: %w", name, err)
	}

	r.mu.Lock()
	r.programs[name] = program
	r.mu.Unlock()

	r.RegisterFunc(name, func(_ context.Context, ref types.PropertyReference, current, proposed any) error {
		out, err := expr.Run(program, map[string]any{"current": current, "proposed": proposed})
		if err != nil {
			return &types.ValidationError{Property: ref, Proposed: proposed, Rule: name, Err: err}
		}
		ok, _ := out.(bool)
		if !ok {
			return &types.ValidationError{Property: ref, Proposed: proposed, Rule: name}
		}
		return nil
	})
	return nil
}
