package types

// ParentEdge identifies one incoming attachment edge to a subject: the
// property that holds it, and the index (for a sequence) or key (for a map)
// within that property's value. IndexOrKey is nil for a plain KindSubject
// property.
type ParentEdge struct {
	Property   PropertyReference
	IndexOrKey any
}

// ChildEdge identifies one outgoing edge from a property to a contained
// subject, mirroring ParentEdge from the other direction. Bookkeeping
// between RegisteredProperty.Children and RegisteredSubject.Parents must
// never diverge (spec.md §3 invariants).
type ChildEdge struct {
	Subject    Subject
	IndexOrKey any
}

// RegisteredSubject is the registry's live, tracked view of an attached
// subject (spec.md §3, §4.4).
type RegisteredSubject interface {
	Subject() Subject
	// Parents returns the subject's current incoming attachment edges. A
	// subject with an empty Parents list that is still registered is an
	// explicit root.
	Parents() []ParentEdge
	// RefCount returns the subject's current reference count (spec.md §3
	// invariant: refcount = attachment edges + 1 if explicit root).
	RefCount() int
	// Property looks up a registered property by name (static or
	// dynamic, including attributes addressed as "base@attr").
	Property(name string) (RegisteredProperty, bool)
	// AllProperties returns every registered property on this subject, in
	// a stable but unspecified order.
	AllProperties() []RegisteredProperty
}

// RegisteredProperty is the registry's live, tracked view of one property
// on a registered subject.
type RegisteredProperty interface {
	Reference() PropertyReference
	Metadata() PropertyMetadata
	// Children returns the subjects currently held by this property's
	// value, with their index/key, in the order spec.md §3 requires:
	// insertion order for sequences, stable-but-arbitrary order for maps.
	Children() []ChildEdge
	// Path returns the property's canonical dotted path (spec.md §4.4):
	// camelCase names, "[i]" for sequence indices, "@attr" for attributes,
	// never a dot before "@".
	Path() string
}

// Registry is the live index of attached subjects plus their parent/child
// edges (spec.md §4.4). Implementations must offer single-writer/
// multi-reader semantics: writers (attach/detach/add-dynamic-property) take
// an exclusive lock, readers take a consistent snapshot (spec.md §5).
type Registry interface {
	// Lookup returns the registered view of a subject, or false if it is
	// not currently attached.
	Lookup(s Subject) (RegisteredSubject, bool)
	// Snapshot returns every currently registered subject. The slice is a
	// point-in-time copy safe to range over during concurrent mutation.
	Snapshot() []RegisteredSubject
	// Size returns the number of currently registered subjects.
	Size() int
	// Walk performs a cycle-safe traversal of every subject reachable from
	// root, invoking visit once per (registered subject, registered
	// property) pair it discovers (spec.md §4.4 get_all_properties).
	Walk(root Subject, visit func(RegisteredSubject, RegisteredProperty))
}
