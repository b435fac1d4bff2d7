package spill

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/ref"
)

// Policy is the collaborator spec.md leaves as an open question: the hooks
// (Touch/Free) are called from Put/Get/restore for destroy_on_evict entries, but the
// eviction decision itself is pluggable. NullPolicy is a no-op; LRUPolicy is
// the default, wired against github.com/hashicorp/golang-lru/v2.
type Policy interface {
	// Touch records that id (of the given size) was just accessed or
	// created, for recency ordering.
	Touch(id ref.LocalID, size int64)
	// Free is called before allocating size bytes in memory; implementations
	// may evict other entries to make room, invoking the evict callback.
	Free(size int64)
	// Forget drops id from the policy's bookkeeping without triggering
	// eviction — used when an id is destroyed through the normal refcount
	// path rather than by the policy itself.
	Forget(id ref.LocalID)
}

// EvictFunc is invoked by a Policy when it chooses to evict id. The
// SpillManager supplies this, responding either by spilling to disk (if
// spill-to-disk is enabled) or destroying the entry outright.
type EvictFunc func(id ref.LocalID, size int64)

// NullPolicy never evicts. It matches spec.md's "ships without an active
// eviction mechanism" default — memory pressure is the caller's problem,
// but the hooks still fire.
type NullPolicy struct{}

func (NullPolicy) Touch(ref.LocalID, int64) {}
func (NullPolicy) Free(int64)               {}
func (NullPolicy) Forget(ref.LocalID)       {}

// evictedEntry records an id the underlying LRU dropped, queued for the
// EvictFunc callback to run once the policy's own lock is released.
type evictedEntry struct {
	id   ref.LocalID
	size int64
}

// LRUPolicy evicts the least-recently-touched destroy-on-evict entry when
// Free would push the running total over MaxBytes. It only tracks entries
// explicitly handed to it via Touch — callers are expected to only Touch
// ids with destroy_on_evict set, per spec.md §4.6.
type LRUPolicy struct {
	maxBytes int64
	onEvict  EvictFunc

	mu         sync.Mutex
	order      *lru.Cache[ref.LocalID, int64]
	total      int64
	forgetting bool
	pending    []evictedEntry
}

// NewLRUPolicy builds a policy that keeps the running total of tracked
// entries under maxBytes (0 disables the bound — entries are still
// recency-ordered but never auto-evicted).
func NewLRUPolicy(maxBytes int64, onEvict EvictFunc) *LRUPolicy {
	p := &LRUPolicy{maxBytes: maxBytes, onEvict: onEvict}
	// Capacity is unbounded by entry count; the real bound is maxBytes,
	// enforced in Free. A generous entry cap just avoids unbounded growth
	// of the underlying ring in pathological all-tiny-payload workloads.
	cache, _ := lru.NewWithEvict[ref.LocalID, int64](1<<20, p.handleEvict)
	p.order = cache
	return p
}

// handleEvict is the underlying lru.Cache's OnEvicted callback: it always
// fires with p.mu already held by the caller that triggered the removal
// (RemoveOldest, Remove, or a capacity-forced Add). It must never call
// back into EvictFunc directly — EvictFunc ultimately reaches
// spill.Manager.Destroy, which calls Policy.Forget, which locks p.mu
// again; a non-reentrant sync.Mutex would deadlock. Instead it only
// updates bookkeeping and records the victim for the caller to hand to
// EvictFunc after releasing the lock.
func (p *LRUPolicy) handleEvict(id ref.LocalID, size int64) {
	p.total -= size
	if p.forgetting {
		return
	}
	p.pending = append(p.pending, evictedEntry{id, size})
}

// takePending must be called with p.mu held. It drains the victims queued
// by handleEvict during the current call.
func (p *LRUPolicy) takePending() []evictedEntry {
	victims := p.pending
	p.pending = nil
	return victims
}

func (p *LRUPolicy) fireEvictions(victims []evictedEntry) {
	if p.onEvict == nil {
		return
	}
	for _, v := range victims {
		log.V(2).Info("lru evicting entry", "id", v.id, "size", v.size)
		p.onEvict(v.id, v.size)
	}
}

func (p *LRUPolicy) Touch(id ref.LocalID, size int64) {
	p.mu.Lock()
	if old, ok := p.order.Peek(id); ok {
		p.total += size - old
	} else {
		p.total += size
	}
	p.order.Add(id, size)
	victims := p.takePending()
	p.mu.Unlock()
	p.fireEvictions(victims)
}

func (p *LRUPolicy) Free(size int64) {
	p.mu.Lock()
	if p.maxBytes <= 0 {
		p.mu.Unlock()
		return
	}
	for p.total+size > p.maxBytes {
		if _, _, ok := p.order.RemoveOldest(); !ok {
			break
		}
	}
	victims := p.takePending()
	p.mu.Unlock()
	p.fireEvictions(victims)
}

func (p *LRUPolicy) Forget(id ref.LocalID) {
	p.mu.Lock()
	p.forgetting = true
	p.order.Remove(id)
	p.forgetting = false
	p.mu.Unlock()
}
