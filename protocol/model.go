// Package protocol implements the subject-update wire model and bridge
// transports of spec.md §4.8: building and applying SubjectUpdate
// snapshots, the JSON envelope codec, and concrete WebSocket and MQTT
// bridges built on the engine package.
package protocol

import (
	"context"

	"github.com/reactivegraph/interceptor/types"
)

// BuildSnapshot walks every subject reachable from root (cycle-safe, via
// the registry's traversal guard) and produces a complete SubjectUpdate:
// every static and dynamic property of every reachable subject, at its
// current value (spec.md §4.8 "Build complete ... snapshots"). Subject-
// valued properties are serialized as the referenced subject's id; the
// referenced subject itself is included in the same snapshot as its own
// top-level entry, so a receiver with the same type registered against its
// SubjectFactory can reconstruct the graph without a second round trip.
func BuildSnapshot(ctx context.Context, reg types.Registry, root types.Subject) types.SubjectUpdate {
	update := types.NewSubjectUpdate(root.Id())
	reg.Walk(root, func(rs types.RegisteredSubject, rp types.RegisteredProperty) {
		meta := rp.Metadata()
		if meta.Reader == nil {
			return
		}
		value, err := meta.Reader(ctx)
		if err != nil {
			return
		}
		pu, _ := encodeValue(meta, value)
		update.Put(rs.Subject().Id(), rp.Reference().Property, pu)
	})
	return update
}

// encodeValue converts a live property value into its wire PropertyUpdate
// representation, returning any subject values found so the caller can
// queue them for their own top-level snapshot entry.
func encodeValue(meta types.PropertyMetadata, value any) (types.PropertyUpdate, []types.Subject) {
	if value == nil {
		return types.PropertyUpdate{Kind: types.UpdateAbsence}, nil
	}
	if s, ok := value.(types.Subject); ok {
		if len(types.ExtractContained(s)) == 0 {
			// A typed-nil subject pointer (e.g. an unset *Person): absent.
			return types.PropertyUpdate{Kind: types.UpdateAbsence}, nil
		}
		return types.PropertyUpdate{Kind: types.UpdateValue, Value: s.Id()}, []types.Subject{s}
	}
	contained := types.ExtractContained(value)
	if len(contained) == 0 {
		return types.PropertyUpdate{Kind: types.UpdateValue, Value: value}, nil
	}
	// A sequence/map of subjects: still a full-value update (spec.md §4.8
	// "Value" variant — "For collection-valued properties, the value is an
	// ordered sequence of items; for map-valued, a mapping"), with the
	// parallel structure of ids in place of each element. UpdateCollectionItem/
	// UpdateMapItem are reserved for true incremental single-element updates
	// (their payload is {index, value} / {key, value}, never a whole
	// collection), which this builder never emits — BuildSnapshot/
	// BuildPartialFromChanges always serialize a changed collection property
	// whole, at property granularity.
	nested := make([]types.Subject, 0, len(contained))
	switch meta.Kind {
	case types.KindMap:
		ids := make(map[string]string, len(contained))
		for _, c := range contained {
			ids[indexOrKeyString(c.IndexOrKey)] = c.Subject.Id()
			nested = append(nested, c.Subject)
		}
		return types.PropertyUpdate{Kind: types.UpdateValue, Value: ids}, nested
	default:
		ids := make([]string, len(contained))
		for _, c := range contained {
			if i, ok := c.IndexOrKey.(int); ok && i >= 0 && i < len(ids) {
				ids[i] = c.Subject.Id()
			}
			nested = append(nested, c.Subject)
		}
		return types.PropertyUpdate{Kind: types.UpdateValue, Value: ids}, nested
	}
}

func indexOrKeyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// BuildPartialFromChanges builds a partial SubjectUpdate from a batch of
// committed changes (spec.md §4.8 "create_partial_from_changes", §6),
// rooted at root.Id() so the receiver resolves it against the same indexed
// root it was welcomed with. Each change contributes its subject's current
// value for the changed property only; a subject newly referenced by a
// change (e.g. a property that now points at a subject the receiver has
// never seen) is serialized completely, recursively, the same way
// BuildSnapshot walks a fresh graph — the receiver has no other way to
// learn that subject's shape.
func BuildPartialFromChanges(ctx context.Context, root types.Subject, changes []types.PropertyChange) types.SubjectUpdate {
	update := types.NewSubjectUpdate(root.Id())
	visited := make(map[string]bool)
	var pending []types.Subject

	for _, change := range changes {
		s := change.Property.Subject
		if s == nil {
			continue
		}
		meta, ok := s.Metadata(change.Property.Property)
		if !ok {
			continue
		}
		pu, nested := encodeValue(meta, change.NewValue)
		update.Put(s.Id(), change.Property.Property, pu)
		pending = append(pending, nested...)
	}

	for len(pending) > 0 {
		s := pending[0]
		pending = pending[1:]
		if visited[s.Id()] {
			continue
		}
		visited[s.Id()] = true

		names := append(append([]string{}, s.Properties()...), s.DynamicPropertyNames()...)
		for _, name := range names {
			meta, ok := s.Metadata(name)
			if !ok || meta.Reader == nil {
				continue
			}
			value, err := meta.Reader(ctx)
			if err != nil {
				continue
			}
			pu, nested := encodeValue(meta, value)
			update.Put(s.Id(), name, pu)
			pending = append(pending, nested...)
		}
	}
	return update
}
