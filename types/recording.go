package types

import "context"

// This file implements the derived-property dependency recorder described
// in spec.md §4.5 and the "global/thread-local currently-recording stack"
// design note in spec.md §9. Go has no cheap thread-local storage, and
// faking one (e.g. parsing a goroutine id out of runtime.Stack) is the kind
// of hack the design notes explicitly warn off. The idiomatic Go substitute
// for "ambient state scoped to the current call chain" is context.Context,
// which every read/write already threads through the interceptor chain —
// so the recording stack rides along as a context value instead of a
// separate thread-local. A single recompute is synchronous (one goroutine,
// one call chain), so this needs no extra locking beyond what a single
// goroutine naturally provides.

type recordingFrame struct {
	derived PropertyReference
	reads   []PropertyReference
}

type recordingStack struct {
	frames []recordingFrame
}

type recordingStackKeyType struct{}

var recordingStackKey = recordingStackKeyType{}

// PushRecording starts (or continues) a derived-property recomputation
// scope for `derived` on ctx, returning a context to use for the
// recomputation's own reads. It fails with CycleInDerivationError if
// `derived` is already on the stack (a derived property re-entering
// itself, spec.md §4.5 cycle detection).
func PushRecording(ctx context.Context, derived PropertyReference) (context.Context, error) {
	st, ok := ctx.Value(recordingStackKey).(*recordingStack)
	if !ok {
		st = &recordingStack{}
		ctx = context.WithValue(ctx, recordingStackKey, st)
	}
	stack := make([]PropertyReference, 0, len(st.frames))
	for _, f := range st.frames {
		if f.derived == derived {
			stack = append(stack, f.derived)
			return ctx, &CycleInDerivationError{Property: derived, Stack: stack}
		}
		stack = append(stack, f.derived)
	}
	st.frames = append(st.frames, recordingFrame{derived: derived})
	return ctx, nil
}

// PopRecording ends the innermost recording scope and returns the set of
// property references read during it, replacing whatever dependency set
// the derived property had before (spec.md §4.5 step 3 — this is what
// makes conditional/short-circuit dependencies re-record correctly).
func PopRecording(ctx context.Context) []PropertyReference {
	st, ok := ctx.Value(recordingStackKey).(*recordingStack)
	if !ok || len(st.frames) == 0 {
		return nil
	}
	n := len(st.frames) - 1
	reads := st.frames[n].reads
	st.frames = st.frames[:n]
	return reads
}

// RecordRead notes that ref was read, attributing it to the innermost
// active recording scope. A no-op if no derived property is currently
// recomputing on this call chain.
func RecordRead(ctx context.Context, ref PropertyReference) {
	st, ok := ctx.Value(recordingStackKey).(*recordingStack)
	if !ok || len(st.frames) == 0 {
		return
	}
	top := &st.frames[len(st.frames)-1]
	top.reads = append(top.reads, ref)
}

// changeSourceKeyType scopes the "this write came from bridge X" tag a
// bridge's apply path sets so the change-publication interceptor can stamp
// emitted changes, and a ChangeQueueProcessor can filter its own loopback
// (spec.md §4.7 "loopback suppression", §9 design notes).
type changeSourceKeyType struct{}

var changeSourceKey = changeSourceKeyType{}

// WithChangeSource returns a context tagged with the given change source,
// for the duration of one apply call (spec.md §4.8 "apply rules": "applied
// ... with the receiver set to the bridge's source identity").
func WithChangeSource(ctx context.Context, source ChangeSource) context.Context {
	return context.WithValue(ctx, changeSourceKey, source)
}

// ChangeSourceFromContext returns the change source tagged on ctx, or
// NoSource if none was set.
func ChangeSourceFromContext(ctx context.Context) ChangeSource {
	if s, ok := ctx.Value(changeSourceKey).(ChangeSource); ok {
		return s
	}
	return NoSource
}
