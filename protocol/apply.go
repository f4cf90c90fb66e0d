package protocol

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/types"
)

// Applier applies received SubjectUpdate snapshots to a live object graph,
// idempotently (spec.md §8 invariant I3: applying the same update twice
// leaves the graph in the same state as applying it once — true here
// because every property write runs through the standard Equality
// interceptor, which no-ops when the decoded value already matches).
//
// index maps wire subject ids to live subjects seen so far in this
// session; a subject id referenced before its own top-level entry has been
// applied is constructed on demand via factory (spec.md §8 "register
// (construct) before welcome/update processing can resolve references to
// it" discipline — Applier enforces the construct-on-first-reference half
// of that, the bridge's handshake enforces the timing half).
type Applier struct {
	ctx     *engine.Context
	factory types.SubjectFactory

	mu    sync.Mutex
	index map[string]types.Subject
}

func NewApplier(ctx *engine.Context, factory types.SubjectFactory) *Applier {
	return &Applier{ctx: ctx, factory: factory, index: make(map[string]types.Subject)}
}

// Index registers an already-constructed subject (typically the session's
// root) under its wire id, so Apply resolves references to it instead of
// asking the factory to construct a duplicate.
func (a *Applier) Index(s types.Subject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index[s.Id()] = s
}

func (a *Applier) lookup(id string) (types.Subject, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.index[id]
	return s, ok
}

func (a *Applier) resolve(ctx context.Context, id string) (types.Subject, error) {
	if s, ok := a.lookup(id); ok {
		return s, nil
	}
	if a.factory == nil {
		return nil, nil
	}
	s, err := a.factory.New(ctx, types.PropertyMetadata{}, "")
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.index[id] = s
	a.mu.Unlock()
	return s, nil
}

// Apply writes every property update in update to its target subject,
// tagging the writes with source so the change-publication interceptor and
// any ChangeQueueProcessor listening with the same source identity
// suppress the resulting loopback (spec.md §4.7, §4.8).
func (a *Applier) Apply(ctx context.Context, update types.SubjectUpdate, source types.ChangeSource) error {
	ctx = types.WithChangeSource(ctx, source)

	root, err := a.resolve(ctx, update.Root)
	if err != nil {
		return err
	}
	if root != nil {
		if _, attached := a.ctx.Registry().Lookup(root); !attached {
			if err := a.ctx.AttachRoot(ctx, root); err != nil {
				return err
			}
		}
	}

	for subjectID, props := range update.Subjects {
		subject, err := a.resolve(ctx, subjectID)
		if err != nil || subject == nil {
			continue
		}
		for property, pu := range props {
			if err := a.applyOne(ctx, subject, property, pu); err != nil {
				if _, isMismatch := err.(*types.TypeMismatchError); isMismatch {
					a.ctx.Config().Logger.Printf("protocol: skipping %s.%s: %v", subjectID, property, err)
					continue // spec.md §7: logged and skipped, apply continues
				}
				return err
			}
		}
	}
	return nil
}

// applyOne writes one decoded property value through a.ctx.Write rather
// than calling meta.Writer directly, so an inbound update runs the same
// equality-gate/parent-tracking/lifecycle/validation/change-publication
// chain a local application write does (spec.md §4.2, §4.3). That chain is
// what lets a subject-valued update keep refcounting correct and what
// re-publishes the write onto the change stream for the bridge to
// rebroadcast to other connections (spec.md §8 scenario 3 "bidirectional
// sync") — calling the raw terminal writer would silently skip all of it.
func (a *Applier) applyOne(ctx context.Context, subject types.Subject, property string, pu types.PropertyUpdate) error {
	meta, ok := subject.Metadata(property)
	if !ok || meta.Writer == nil {
		return nil
	}

	switch pu.Kind {
	case types.UpdateAbsence:
		// An untyped nil never satisfies the generated writer's value.(T)
		// assertion for any concrete T, so the zero value of the declared
		// type is what "this property is now absent" must decode to.
		zero := reflect.Zero(meta.ValueType).Interface()
		return a.ctx.Write(ctx, subject, property, zero)
	case types.UpdateValue:
		switch meta.Kind {
		case types.KindSubject:
			id, ok := pu.Value.(string)
			if !ok {
				return nil
			}
			target, err := a.resolve(ctx, id)
			if err != nil {
				return err
			}
			return a.ctx.Write(ctx, subject, property, target)
		case types.KindSequence:
			if !elemIsSubject(meta.ValueType.Elem()) {
				return a.writeDecoded(ctx, subject, property, meta, pu.Value)
			}
			return a.writeSubjectSequence(ctx, subject, property, meta, pu.Value)
		case types.KindMap:
			if !elemIsSubject(meta.ValueType.Elem()) {
				return a.writeDecoded(ctx, subject, property, meta, pu.Value)
			}
			return a.writeSubjectMap(ctx, subject, property, meta, pu.Value)
		default:
			return a.writeDecoded(ctx, subject, property, meta, pu.Value)
		}
	case types.UpdateCollectionItem, types.UpdateMapItem:
		// Reserved for true incremental single-element updates; this
		// applier only ever receives whole-property UpdateValue payloads
		// from protocol/model.go's builders (see model.go's encodeValue).
		// Decode best-effort for a peer that does send one.
		return a.writeDecoded(ctx, subject, property, meta, pu.Value)
	}
	return nil
}

// writeSubjectSequence resolves an ordered sequence of wire subject ids
// into live subjects via the factory (constructing new ones on first
// reference) and writes the resulting typed slice through the property's
// declared ValueType. An existing child subject is reused in a slot when
// the receiver's current slice holds a subject with the same wire id at
// that index, whatever the two lengths; every other slot is resolved
// through the index or the factory.
func (a *Applier) writeSubjectSequence(ctx context.Context, subject types.Subject, property string, meta types.PropertyMetadata, raw any) error {
	ids, err := toStringSlice(raw)
	if err != nil {
		return &types.TypeMismatchError{
			Property: types.PropertyReference{Subject: subject, Property: property},
			Expected: meta.ValueType.String(),
			Got:      raw,
			Err:      err,
		}
	}

	var existing []types.Subject
	if current, rerr := a.ctx.Read(ctx, subject, property); rerr == nil {
		existing = asSubjectSlice(current)
	}

	elemType := meta.ValueType.Elem()
	out := reflect.MakeSlice(meta.ValueType, len(ids), len(ids))
	for i, id := range ids {
		var target types.Subject
		if i < len(existing) && ids[i] != "" && existing[i] != nil && existing[i].Id() == id {
			target = existing[i] // same id in the same slot: reuse in place
		} else {
			target, err = a.resolve(ctx, id)
			if err != nil {
				return err
			}
		}
		if target == nil {
			continue
		}
		tv := reflect.ValueOf(target)
		if !tv.Type().AssignableTo(elemType) {
			continue
		}
		out.Index(i).Set(tv)
	}
	return a.ctx.Write(ctx, subject, property, out.Interface())
}

// writeSubjectMap is writeSubjectSequence's map-valued counterpart
// (spec.md §4.8 apply rules for map-valued properties).
func (a *Applier) writeSubjectMap(ctx context.Context, subject types.Subject, property string, meta types.PropertyMetadata, raw any) error {
	ids, err := toStringMap(raw)
	if err != nil {
		return &types.TypeMismatchError{
			Property: types.PropertyReference{Subject: subject, Property: property},
			Expected: meta.ValueType.String(),
			Got:      raw,
			Err:      err,
		}
	}

	keyType := meta.ValueType.Key()
	elemType := meta.ValueType.Elem()
	out := reflect.MakeMapWithSize(meta.ValueType, len(ids))
	for k, id := range ids {
		target, err := a.resolve(ctx, id)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		tv := reflect.ValueOf(target)
		if !tv.Type().AssignableTo(elemType) {
			continue
		}
		kv := reflect.ValueOf(k)
		if !kv.Type().AssignableTo(keyType) {
			continue
		}
		out.SetMapIndex(kv, tv)
	}
	return a.ctx.Write(ctx, subject, property, out.Interface())
}

// elemIsSubject reports whether a sequence/map property's element type is a
// subject reference (so its wire values are ids to resolve) rather than a
// plain scalar (so its wire values decode directly, e.g. scenario 4's
// ints=[10,20,30]). A collection of ints has no Subject-implementing element
// type and must never be routed through id resolution.
func elemIsSubject(elemType reflect.Type) bool {
	if elemType == nil {
		return false
	}
	var s types.Subject
	return elemType.Implements(reflect.TypeOf(&s).Elem())
}

func asSubjectSlice(value any) []types.Subject {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]types.Subject, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if v := rv.Index(i); v.CanInterface() {
			if s, ok := v.Interface().(types.Subject); ok {
				out[i] = s
			}
		}
	}
	return out
}

func toStringSlice(raw any) ([]string, error) {
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a sequence, got %T", raw)
	}
	out := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v := rv.Index(i)
		if !v.CanInterface() {
			continue
		}
		s, _ := v.Interface().(string)
		out[i] = s
	}
	return out, nil
}

func toStringMap(raw any) (map[string]string, error) {
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("expected a map, got %T", raw)
	}
	out := make(map[string]string, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := fmt.Sprint(iter.Key().Interface())
		if v, ok := iter.Value().Interface().(string); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *Applier) writeDecoded(ctx context.Context, subject types.Subject, property string, meta types.PropertyMetadata, raw any) error {
	if meta.ValueType == nil {
		return a.ctx.Write(ctx, subject, property, raw)
	}
	dst := reflect.New(meta.ValueType)
	if err := mapstructure.Decode(raw, dst.Interface()); err != nil {
		return &types.TypeMismatchError{
			Property: types.PropertyReference{Subject: subject, Property: property},
			Expected: meta.ValueType.String(),
			Got:      raw,
			Err:      err,
		}
	}
	return a.ctx.Write(ctx, subject, property, dst.Elem().Interface())
}
