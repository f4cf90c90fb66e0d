package engine

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/reactivegraph/interceptor/types"
)

// AddDynamicProperty registers a plain or derived property on base at
// runtime (spec.md §4.6). It participates in the interceptor pipeline, the
// change stream and the subject-update protocol exactly like a static
// Property[T] declared at construction time.
func AddDynamicProperty[T any](base *Base, name string, opts ...PropertyOption[T]) *Property[T] {
	return newProperty(base, name, true, opts...)
}

// AddAttribute registers a named attribute bound to baseProperty (spec.md
// §4.1, §4.6). Its canonical path is baseProperty's path suffixed with
// "@attributeName" (engine/path.go), and like any dynamic property it is a
// first-class participant in tracking and the wire protocol.
func AddAttribute[T any](base *Base, baseProperty, attributeName string, opts ...PropertyOption[T]) *Property[T] {
	opts = append(opts, WithAttributeOf[T](baseProperty, attributeName))
	return newProperty(base, baseProperty+"@"+attributeName, true, opts...)
}

// GojaDerived compiles a JavaScript expression with goja and returns a
// PropertyOption that makes a dynamic property derived from it, evaluated
// against a "properties" object exposing every other property on the same
// subject by name via a getter (spec.md §4.6 "derived dynamic property");
// the same role the teacher's utils/js package gives goja for
// expression-backed filter/transform nodes, here aimed at runtime-declared
// derived properties instead of message transforms.
//
// Only scalar result kinds are supported: the expression's result is
// converted with Export() and must type-assert to T.
func GojaDerived[T any](base *Base, source string) (PropertyOption[T], error) {
	program, err := goja.Compile("derived", source, true)
	if err != nil {
		return nil, fmt.Errorf("compiling derived expression: %w", err)
	}
	return WithDerived[T](func(ctx context.Context) (T, error) {
		var zero T
		vm := goja.New()
		props := vm.NewObject()
		for _, name := range append(append([]string{}, base.Properties()...), base.DynamicPropertyNames()...) {
			name := name
			meta, ok := base.Metadata(name)
			if !ok || meta.Reader == nil {
				continue
			}
			_ = props.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value {
				v, err := base.ctx.Read(ctx, base, name)
				if err != nil {
					panic(vm.ToValue(err.Error()))
				}
				return vm.ToValue(v)
			}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
		}
		if err := vm.Set("properties", props); err != nil {
			return zero, err
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			return zero, err
		}
		exported := result.Export()
		v, ok := exported.(T)
		if !ok {
			return zero, &types.TypeMismatchError{
				Property: types.PropertyReference{Subject: base, Property: "<derived>"},
				Expected: zero,
				Got:      exported,
			}
		}
		return v, nil
	}), nil
}
