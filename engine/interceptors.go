package engine

import (
	"sort"
	"sync"

	"github.com/reactivegraph/interceptor/types"
)

// interceptorCollection is the ordered read/write interceptor chain attached
// to every subject (spec.md §4.2). It tracks which entries are the
// subject's own versus inherited from a parent's collection, so that
// UninheritFrom can remove exactly the entries a given source contributed
// without disturbing the subject's own registrations or another parent's
// (spec.md §4.2 "On detach, the previously inherited collection is removed
// from the child").
//
// Modeled on the teacher's ordered, Order()-sorted aspect chain
// (builtin/aspect + engine/chain.go in bittoy-rule): entries sort by Order()
// ascending and run outermost-first on read, outermost-first-in/
// last-out-on-unwind on write, exactly like the teacher's before/after
// pointcut chain.
type interceptorCollection struct {
	mu sync.Mutex

	ownRead  []types.ReadInterceptor
	ownWrite []types.WriteInterceptor

	// inherited maps a source collection to the entries it contributed,
	// so UninheritFrom can remove precisely that source's contribution.
	inherited map[types.InterceptorCollection]inheritedEntries
}

type inheritedEntries struct {
	read  []types.ReadInterceptor
	write []types.WriteInterceptor
}

func newInterceptorCollection() *interceptorCollection {
	return &interceptorCollection{
		inherited: make(map[types.InterceptorCollection]inheritedEntries),
	}
}

func (c *interceptorCollection) AddRead(i types.ReadInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownRead = append(c.ownRead, i)
}

func (c *interceptorCollection) AddWrite(i types.WriteInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownWrite = append(c.ownWrite, i)
}

func (c *interceptorCollection) RemoveRead(i types.ReadInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownRead = removeReadInterceptor(c.ownRead, i)
}

func (c *interceptorCollection) RemoveWrite(i types.WriteInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownWrite = removeWriteInterceptor(c.ownWrite, i)
}

// InheritFrom unions source's current chain into this collection, recorded
// under source's identity so UninheritFrom can later remove exactly this
// contribution (spec.md §4.2 inherit-by-union).
func (c *interceptorCollection) InheritFrom(source types.InterceptorCollection) {
	read := source.ReadChain()
	write := source.WriteChain()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inherited[source] = inheritedEntries{read: read, write: write}
}

func (c *interceptorCollection) UninheritFrom(source types.InterceptorCollection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inherited, source)
}

// ReadChain returns the full effective chain, own entries unioned with
// every inherited source's entries, sorted by Order ascending.
func (c *interceptorCollection) ReadChain() []types.ReadInterceptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[types.ReadInterceptor]bool)
	var all []types.ReadInterceptor
	for _, i := range c.ownRead {
		if !seen[i] {
			seen[i] = true
			all = append(all, i)
		}
	}
	for _, entry := range c.inherited {
		for _, i := range entry.read {
			if !seen[i] {
				seen[i] = true
				all = append(all, i)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Order() < all[j].Order() })
	return all
}

func (c *interceptorCollection) WriteChain() []types.WriteInterceptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[types.WriteInterceptor]bool)
	var all []types.WriteInterceptor
	for _, i := range c.ownWrite {
		if !seen[i] {
			seen[i] = true
			all = append(all, i)
		}
	}
	for _, entry := range c.inherited {
		for _, i := range entry.write {
			if !seen[i] {
				seen[i] = true
				all = append(all, i)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Order() < all[j].Order() })
	return all
}

func removeReadInterceptor(list []types.ReadInterceptor, target types.ReadInterceptor) []types.ReadInterceptor {
	out := list[:0:0]
	for _, i := range list {
		if i != target {
			out = append(out, i)
		}
	}
	return out
}

func removeWriteInterceptor(list []types.WriteInterceptor, target types.WriteInterceptor) []types.WriteInterceptor {
	out := list[:0:0]
	for _, i := range list {
		if i != target {
			out = append(out, i)
		}
	}
	return out
}

var _ types.InterceptorCollection = (*interceptorCollection)(nil)
