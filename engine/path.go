package engine

import (
	"strconv"
	"strings"

	"github.com/reactivegraph/interceptor/types"
)

// canonicalPath builds the dotted path spec.md §4.4 describes: camelCase
// property names joined by '.', "[i]"/"[key]" for ordered/map indices, and
// an attribute suffixed directly onto its base property's path as "@name"
// with no separating dot.
//
// A subject reachable via more than one parent edge (shared references,
// diamonds) has more than one valid path; this picks the first parent edge
// recorded and documents the choice rather than returning a path set, the
// same simplification spec.md §9 sanctions for "at least one divergent
// implementation" design questions.
func (r *registry) canonicalPath(ref types.PropertyReference, meta types.PropertyMetadata) string {
	if meta.IsAttribute {
		basePath := r.structuralPath(ref.Subject, meta.AttributeOf)
		return basePath + "@" + meta.AttributeName
	}
	return r.structuralPath(ref.Subject, ref.Property)
}

func (r *registry) structuralPath(subject types.Subject, trailing string) string {
	rs, ok := r.Lookup(subject)
	if !ok {
		return trailing
	}
	parents := rs.Parents()
	if len(parents) == 0 {
		return trailing
	}
	parent := parents[0]
	segment := parent.Property.Property
	if parent.IndexOrKey != nil {
		segment += "[" + indexOrKeyString(parent.IndexOrKey) + "]"
	}
	parentPath := r.structuralPath(parent.Property.Subject, segment)
	if strings.HasPrefix(trailing, "@") {
		return parentPath + trailing
	}
	return parentPath + "." + trailing
}

func indexOrKeyString(v any) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return strconv.Itoa(0)
	}
}
