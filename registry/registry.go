// Package registry implements spec.md §4.4: mapping a (context, OID,
// access-kind) query to the single best-matching handler, or to the
// lexicographic successor for GETNEXT/GETBULK traversal. The registry
// itself is purely relational (no state machine); concurrency follows
// spec.md §5's reader/writer discipline, a sync.RWMutex guarding an
// ordered-by-context slice of nodes per context, with the lookup cache
// invalidated atomically with any mutation.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/registry/lrucache"
)

// ErrDuplicateRegistration is returned by Register when an identical
// (prefix, range, priority, context) tuple is already registered.
var ErrDuplicateRegistration = errors.New("registry: duplicate registration")

// Node is one element of the dispatch registry, per spec.md §3.
type Node struct {
	Prefix      ber.OID
	HasRange    bool
	RangeUbound uint32 // only meaningful when HasRange; bounds prefix's last sub-id
	Priority    int
	Context     string
	Handler     any // opaque; package agent supplies and interprets the concrete type
	Session     string
	Readable    bool
	Writable    bool
	IsTable     bool

	seq uint64 // registration order, used as the final tie-breaker
}

// matches reports whether oid falls under n's prefix (and range, if any),
// and if so returns the remainder below the prefix — the "instance"
// portion handlers index into.
func (n *Node) matches(oid ber.OID) (remainder ber.OID, ok bool) {
	p := n.Prefix
	if len(oid) < len(p) {
		return nil, false
	}
	last := len(p) - 1
	for i := 0; i < last; i++ {
		if oid[i] != p[i] {
			return nil, false
		}
	}
	if n.HasRange {
		if oid[last] < p[last] || oid[last] > n.RangeUbound {
			return nil, false
		}
	} else if oid[last] != p[last] {
		return nil, false
	}
	return oid[len(p):], true
}

// startOID is the smallest OID covered by n (the prefix as-is; for a
// ranged node this is already the lowest value in range since
// RangeUbound only ever raises the upper bound).
func (n *Node) startOID() ber.OID { return n.Prefix }

type cacheKey struct {
	context string
	oid     string
	next    bool
}

// Registry is the subtree dispatch table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu      sync.RWMutex
	byCtx   map[string][]*Node
	cache   *lrucache.Cache[cacheKey, *Node]
	nextSeq uint64
}

// New returns an empty Registry whose lookup cache holds cacheSize
// entries (0 disables caching), per spec.md §4.4.
func New(cacheSize int) *Registry {
	return &Registry{
		byCtx: make(map[string][]*Node),
		cache: lrucache.New[cacheKey, *Node](cacheSize),
	}
}

// Register adds a node to the registry. Newly registered nodes become
// visible to queries completing after Register returns; the cache is
// invalidated for the affected context under the same critical section
// as the insertion, matching the "mutate then make visible" discipline
// spec.md §5 requires of writers.
func (r *Registry) Register(n *Node) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byCtx[n.Context] {
		if existing.Priority == n.Priority && existing.Prefix.Equal(n.Prefix) && existing.HasRange == n.HasRange && existing.RangeUbound == n.RangeUbound {
			return nil, ErrDuplicateRegistration
		}
	}

	n.seq = r.nextSeq
	r.nextSeq++

	nodes := append(r.byCtx[n.Context], n)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Prefix.Less(nodes[j].Prefix)
	})
	r.byCtx[n.Context] = nodes

	r.cache.Purge()
	return n, nil
}

// Unregister removes the exact registration matching prefix/range/
// priority/context. It is a no-op if no such node exists.
func (r *Registry) Unregister(context string, prefix ber.OID, hasRange bool, rangeUbound uint32, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.byCtx[context]
	for i, n := range nodes {
		if n.Priority == priority && n.Prefix.Equal(prefix) && n.HasRange == hasRange && n.RangeUbound == rangeUbound {
			r.byCtx[context] = append(nodes[:i], nodes[i+1:]...)
			r.cache.Purge()
			return
		}
	}
}

// UnregisterSession removes every node owned by session across every
// context, for agent shutdown or subagent disconnection. Best-effort:
// it always succeeds, reporting how many nodes were removed.
func (r *Registry) UnregisterSession(session string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for ctx, nodes := range r.byCtx {
		kept := nodes[:0]
		for _, n := range nodes {
			if n.Session == session {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		r.byCtx[ctx] = kept
	}
	if removed > 0 {
		r.cache.Purge()
	}
	return removed
}

// Lookup returns the best-matching node for (context, oid): the longest
// matching prefix, ties broken by lowest priority then earliest
// registration, plus the remainder below that node's prefix.
func (r *Registry) Lookup(context string, oid ber.OID) (node *Node, remainder ber.OID, found bool) {
	key := cacheKey{context, oid.String(), false}

	// Get reorders the LRU list, so even a cache hit takes the write lock.
	r.mu.Lock()
	cached, ok := r.cache.Get(key)
	r.mu.Unlock()
	if ok {
		if cached == nil {
			return nil, nil, false
		}
		rem, _ := cached.matches(oid)
		return cached, rem, true
	}

	// Cache miss: compute and insert under one write-lock acquisition, so
	// a concurrent Register/Unregister's Purge can never land between the
	// scan and the Put and leave a stale entry behind.
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache.Get(key); ok {
		if cached == nil {
			return nil, nil, false
		}
		rem, _ := cached.matches(oid)
		return cached, rem, true
	}

	nodes := r.byCtx[context]

	var best *Node
	var bestRemainder ber.OID
	for _, n := range nodes {
		rem, ok := n.matches(oid)
		if !ok {
			continue
		}
		if best == nil || len(n.Prefix) > len(best.Prefix) ||
			(len(n.Prefix) == len(best.Prefix) && n.Priority < best.Priority) ||
			(len(n.Prefix) == len(best.Prefix) && n.Priority == best.Priority && n.seq < best.seq) {
			best = n
			bestRemainder = rem
		}
	}
	r.cache.Put(key, best)

	if best == nil {
		return nil, nil, false
	}
	return best, bestRemainder, true
}

// LookupNext implements the GETNEXT/GETBULK traversal primitive. When
// oid already falls inside a registered node's coverage, covers is true
// and node is that same node — the caller should ask its handler for the
// next instance strictly after oid before consulting the registry again.
// When oid falls between nodes (or before the first one), covers is
// false and nextStart is the smallest covered OID greater than oid;
// found is false once traversal has run off the end of that context's
// registrations.
func (r *Registry) LookupNext(context string, oid ber.OID) (node *Node, covers bool, nextStart ber.OID, found bool) {
	if n, _, ok := r.Lookup(context, oid); ok {
		return n, true, nil, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := r.byCtx[context]

	var best *Node
	for _, n := range nodes {
		if !n.startOID().Less(oid) && !n.startOID().Equal(oid) {
			if best == nil || n.startOID().Less(best.startOID()) ||
				(n.startOID().Equal(best.startOID()) && (n.Priority < best.Priority || (n.Priority == best.Priority && n.seq < best.seq))) {
				best = n
			}
		}
	}
	if best == nil {
		return nil, false, nil, false
	}
	return best, false, best.startOID().Clone(), true
}
