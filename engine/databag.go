package engine

import (
	"sync"

	"github.com/fatih/structs"

	"github.com/reactivegraph/interceptor/types"
)

// dataBag is the concurrency-safe string-keyed bag attached to every
// subject (spec.md §4.1, types.DataBag). Plain RWMutex-guarded map, the
// same shared-resource policy spec.md §5 prescribes for ordinary
// non-suspending bookkeeping.
type dataBag struct {
	mu   sync.RWMutex
	data map[string]any
}

func newDataBag() *dataBag {
	return &dataBag{data: make(map[string]any)}
}

func (b *dataBag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *dataBag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *dataBag) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

func (b *dataBag) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys
}

var _ types.DataBag = (*dataBag)(nil)

// SeedDataBag merges every exported field of a plain tagged struct into bag
// in one call, keyed by its `structs` tag name (field name if untagged).
// This is the Go-idiomatic substitute for a per-field sequence of Set calls
// when a bridge wants to attach a block of static bookkeeping — build info,
// source-path hints (spec.md §4.1) — to a subject's data bag at construction
// time. Grounded on the teacher's direct, otherwise-unexercised
// fatih/structs dependency: the same struct-to-map conversion it ships for.
func SeedDataBag(bag types.DataBag, src any) {
	if src == nil {
		return
	}
	for k, v := range structs.New(src).Map() {
		bag.Set(k, v)
	}
}
