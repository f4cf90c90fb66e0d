package types

import (
	"fmt"
	"reflect"
)

// ContainedSubject is one subject directly held by a property's value, with
// its index (ordered sequences), key (maps, stringified per spec.md §4.8),
// or nil (a plain subject-valued property).
type ContainedSubject struct {
	Subject    Subject
	IndexOrKey any
}

// ExtractContained extracts the subjects directly contained in a property
// value, per spec.md §4.3.2: a subject directly; every subject-typed
// element of an ordered sequence, with its index; every subject-typed value
// of a map, with its (stringified) key; nothing else. It does not recurse
// into an extracted subject's own properties — "deep traversal into an
// attached child is not required at the containing-property level".
func ExtractContained(value any) []ContainedSubject {
	if value == nil {
		return nil
	}
	if s, ok := value.(Subject); ok {
		if isNilSubject(s) {
			return nil
		}
		return []ContainedSubject{{Subject: s}}
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var out []ContainedSubject
		for i := 0; i < rv.Len(); i++ {
			if s, ok := asSubject(rv.Index(i)); ok {
				out = append(out, ContainedSubject{Subject: s, IndexOrKey: i})
			}
		}
		return out
	case reflect.Map:
		var out []ContainedSubject
		iter := rv.MapRange()
		for iter.Next() {
			if s, ok := asSubject(iter.Value()); ok {
				out = append(out, ContainedSubject{Subject: s, IndexOrKey: stringifyKey(iter.Key())})
			}
		}
		return out
	default:
		return nil
	}
}

func asSubject(v reflect.Value) (Subject, bool) {
	if !v.IsValid() || !v.CanInterface() {
		return nil, false
	}
	s, ok := v.Interface().(Subject)
	if !ok || isNilSubject(s) {
		return nil, false
	}
	return s, true
}

// isNilSubject reports whether s is nil, including the classic Go gotcha of
// a typed-nil concrete pointer (e.g. (*Person)(nil)) boxed into the Subject
// interface: such a value compares unequal to the untyped nil literal with
// plain ==, but must still be treated as "no subject here" or downstream
// code (registry registration, Id()) would dereference the nil pointer.
func isNilSubject(s Subject) bool {
	if s == nil {
		return true
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func stringifyKey(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	if v.CanInterface() {
		return fmt.Sprint(v.Interface())
	}
	return fmt.Sprintf("%v", v)
}
